// Package inventory implements the seat lock manager: time-bounded,
// all-or-nothing exclusive holds over seat inventory, arbitrated by the
// store's transactional row locks rather than any in-process mutex, so
// multiple server instances stay correct.
package inventory

import (
	"context"
	"time"

	"github.com/iliyamo/theater-reservation/internal/booking"
	"github.com/iliyamo/theater-reservation/internal/model"
	"github.com/iliyamo/theater-reservation/internal/repository"
)

// Manager grants and releases seat holds.  It satisfies booking.SeatLocker.
type Manager struct {
	seats *repository.SeatRepo
}

// NewManager returns a Manager backed by the given seat repository.
func NewManager(seats *repository.SeatRepo) *Manager {
	if seats == nil {
		panic("nil seat repository passed to NewManager")
	}
	return &Manager{seats: seats}
}

// evaluateAcquire decides which of the existing seat rows block an
// acquisition by holder at time now.  A seat conflicts when it is APPROVED,
// or PENDING under an unexpired lock owned by someone else.  Expired locks
// and the holder's own locks are re-acquirable.
func evaluateAcquire(existing []model.Seat, holder string, now time.Time) []model.SeatKey {
	var conflicts []model.SeatKey
	for i := range existing {
		s := &existing[i]
		switch s.Status {
		case model.SeatApproved:
			conflicts = append(conflicts, s.Key)
		case model.SeatPending:
			if !s.LockExpired(now) && !s.HeldBy(holder, now) {
				conflicts = append(conflicts, s.Key)
			}
		}
	}
	return conflicts
}

// Acquire takes PENDING holds on every key for the holder, atomically: a
// single transaction reads all rows under row locks, rejects the whole set
// if any seat is approved or held by another unexpired holder, then writes
// all holds.  The losing side of a race gets a *booking.ConflictError
// naming the contended seats and no write is applied.  Re-acquiring seats
// already held by the same holder refreshes their deadline.
func (m *Manager) Acquire(ctx context.Context, keys []model.SeatKey, holder string, ttl time.Duration) error {
	keys = model.DedupeSeatKeys(keys)
	if len(keys) == 0 {
		return &booking.ValidationError{Reason: "no seats to acquire"}
	}
	if holder == "" {
		return &booking.ValidationError{Reason: "empty lock holder"}
	}
	if ttl <= 0 {
		return &booking.ValidationError{Reason: "non-positive lock ttl"}
	}

	tx, err := m.seats.DB().BeginTx(ctx, nil)
	if err != nil {
		return &booking.StoreError{Op: "begin acquire", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// The database clock is the only clock used for deadline decisions;
	// the reconciler compares against the same UTC_TIMESTAMP().
	now, err := m.seats.NowTx(ctx, tx)
	if err != nil {
		return &booking.StoreError{Op: "read clock", Err: err}
	}
	existing, err := m.seats.SelectForUpdateTx(ctx, tx, keys)
	if err != nil {
		return &booking.StoreError{Op: "read seats", Err: err}
	}
	if conflicts := evaluateAcquire(existing, holder, now); len(conflicts) > 0 {
		return &booking.ConflictError{Seats: conflicts}
	}
	if err := m.seats.UpsertHoldsTx(ctx, tx, keys, holder, now.Add(ttl)); err != nil {
		return &booking.StoreError{Op: "write holds", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &booking.StoreError{Op: "commit acquire", Err: err}
	}
	committed = true
	return nil
}

// Release returns the given seats to AVAILABLE.  It is idempotent: absent
// rows, already-free seats and approved seats are untouched, and releasing
// twice is a no-op rather than an error.
func (m *Manager) Release(ctx context.Context, keys []model.SeatKey) error {
	keys = model.DedupeSeatKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	if err := m.seats.Release(ctx, keys); err != nil {
		return &booking.StoreError{Op: "release seats", Err: err}
	}
	return nil
}

// IsAvailable is a best-effort, non-transactional availability hint for
// the seat-map UI.  True means the seat row is absent, AVAILABLE, or under
// an expired lock.  The authoritative check is Acquire.
func (m *Manager) IsAvailable(ctx context.Context, key model.SeatKey) (bool, error) {
	seat, err := m.seats.GetByKey(ctx, key)
	if err != nil {
		return false, &booking.StoreError{Op: "read seat", Err: err}
	}
	if seat == nil {
		return true, nil
	}
	switch seat.Status {
	case model.SeatAvailable:
		return true, nil
	case model.SeatPending:
		return seat.LockExpired(time.Now().UTC()), nil
	default:
		return false, nil
	}
}
