package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SeatStatus enumerates the states a seat row can be in for a show date.
// A seat with no row in the store is implicitly available.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE" // free for acquisition
	SeatPending   SeatStatus = "PENDING"   // locked by an in-flight reservation
	SeatApproved  SeatStatus = "APPROVED"  // finalized by an approved reservation
)

// SeatKey uniquely identifies one physical seat instance for one show date.
// It replaces ad hoc string concatenation with a structured composite key
// that still serializes to a stable string for storage and Redis keys.
//
// Fields:
//  ShowDate – show date in "2006-01-02" form.
//  Row      – row label (e.g. "A").
//  Number   – seat number within the row.
type SeatKey struct {
	ShowDate string // seats.show_date
	Row      string // seats.row_label
	Number   uint32 // seats.seat_number
}

// Label returns the human-facing seat label, e.g. "A-12".  This matches the
// form surfaced to the seat-selection UI and used in notification payloads.
func (k SeatKey) Label() string {
	return fmt.Sprintf("%s-%d", k.Row, k.Number)
}

// ID returns the stable storage identity "showDate_row-number".  It is used
// as the Redis member key for checkout sessions and in event payloads.
func (k SeatKey) ID() string {
	return k.ShowDate + "_" + k.Label()
}

// Validate reports whether the key has a parseable date, a non-empty row
// label and a positive seat number.
func (k SeatKey) Validate() error {
	if _, err := time.Parse("2006-01-02", k.ShowDate); err != nil {
		return fmt.Errorf("invalid show date %q", k.ShowDate)
	}
	if strings.TrimSpace(k.Row) == "" {
		return fmt.Errorf("empty row label")
	}
	if strings.Contains(k.Row, "-") || strings.Contains(k.Row, "_") {
		return fmt.Errorf("row label %q contains reserved separator", k.Row)
	}
	if k.Number == 0 {
		return fmt.Errorf("seat number must be positive")
	}
	return nil
}

// ParseSeatKey parses the stable string form produced by ID back into a
// SeatKey.  The expected shape is "2006-01-02_ROW-N".
func ParseSeatKey(s string) (SeatKey, error) {
	datePart, seatPart, ok := strings.Cut(s, "_")
	if !ok {
		return SeatKey{}, fmt.Errorf("seat key %q: missing date separator", s)
	}
	rowPart, numPart, ok := strings.Cut(seatPart, "-")
	if !ok {
		return SeatKey{}, fmt.Errorf("seat key %q: missing row separator", s)
	}
	n, err := strconv.ParseUint(numPart, 10, 32)
	if err != nil {
		return SeatKey{}, fmt.Errorf("seat key %q: bad seat number: %w", s, err)
	}
	key := SeatKey{ShowDate: datePart, Row: rowPart, Number: uint32(n)}
	if err := key.Validate(); err != nil {
		return SeatKey{}, err
	}
	return key, nil
}

// SeatLabels renders the labels of a key slice in input order.
func SeatLabels(keys []SeatKey) []string {
	labels := make([]string, 0, len(keys))
	for _, k := range keys {
		labels = append(labels, k.Label())
	}
	return labels
}

// DedupeSeatKeys drops duplicate keys while preserving first-occurrence
// order.  Requests coming from the UI may repeat a seat after re-selection.
func DedupeSeatKeys(keys []SeatKey) []SeatKey {
	seen := make(map[SeatKey]struct{}, len(keys))
	out := make([]SeatKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Seat mirrors a row of the seats table.  A row exists only once a seat has
// been locked or approved at least once; releasing resets it to AVAILABLE
// rather than deleting it.
//
// Fields:
//  Key           – composite identity (show_date, row_label, seat_number).
//  Status        – AVAILABLE, PENDING or APPROVED.
//  LockedBy      – holder identity (reservation UUID) while PENDING.
//  LockedAt      – when the current hold was taken.
//  LockedUntil   – hold deadline; past-deadline PENDING rows are reclaimable.
//  ReservationID – back-reference set when a reservation finalizes the seat.
type Seat struct {
	Key           SeatKey    // seats composite key columns
	Status        SeatStatus // seats.status
	LockedBy      *string    // seats.locked_by (nullable)
	LockedAt      *time.Time // seats.locked_at (nullable)
	LockedUntil   *time.Time // seats.locked_until (nullable)
	ReservationID *string    // seats.reservation_id (nullable)
}

// HeldBy reports whether the seat is currently locked by the given holder
// with a deadline at or after now.
func (s *Seat) HeldBy(holder string, now time.Time) bool {
	if s.Status != SeatPending || s.LockedBy == nil || s.LockedUntil == nil {
		return false
	}
	return *s.LockedBy == holder && !s.LockedUntil.Before(now)
}

// LockExpired reports whether a PENDING hold is past its deadline.
func (s *Seat) LockExpired(now time.Time) bool {
	return s.Status == SeatPending && s.LockedUntil != nil && !s.LockedUntil.After(now)
}
