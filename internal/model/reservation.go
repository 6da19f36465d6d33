package model

import "time"

// ReservationStatus enumerates the lifecycle states of a reservation.
// PENDING may move to APPROVED or REJECTED; both are terminal.  Expired
// PENDING reservations are deleted by the reconciler rather than given a
// distinct state.
type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "PENDING"
	ReservationApproved ReservationStatus = "APPROVED"
	ReservationRejected ReservationStatus = "REJECTED"
)

// Terminal reports whether no further transition may leave the status.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationApproved || s == ReservationRejected
}

// SeatDecision is the per-seat outcome recorded on a reservation_seats row
// when an administrator approves or rejects individual seats instead of the
// whole reservation.
type SeatDecision string

const (
	SeatDecisionPending  SeatDecision = "PENDING"
	SeatDecisionApproved SeatDecision = "APPROVED"
	SeatDecisionRejected SeatDecision = "REJECTED"
)

// ReservationSeat links a reservation to one seat and carries the per-seat
// decision.
//
// Fields:
//  ReservationID – reference to the reservation.
//  Key           – seat identity within the reservation's show date.
//  Decision      – per-seat outcome, PENDING until an admin decides.
type ReservationSeat struct {
	ReservationID string       // reservation_seats.reservation_id
	Key           SeatKey      // reservation_seats composite seat columns
	Decision      SeatDecision // reservation_seats.seat_status
}

// Reservation records a booking request for a set of seats on one show
// date.  The seat set of any non-terminal or approved reservation is
// guaranteed disjoint from every other such reservation's seat set.
//
// Fields:
//  ID          – generated UUID; doubles as the seat-lock holder identity.
//  FirstName   – requester first name.
//  LastName    – requester last name.
//  PhoneNumber – normalized phone (leading zeros stripped).
//  ShowDate    – show date shared by all seats.
//  Status      – PENDING, APPROVED or REJECTED.
//  Seats       – ordered seats with their per-seat decisions.
//  CreatedAt   – creation timestamp (UTC).
//  ExpiresAt   – checkout deadline for PENDING reservations; nil once a
//                per-seat decision exists (manual resolution, never reclaimed).
type Reservation struct {
	ID          string            // reservations.id
	FirstName   string            // reservations.first_name
	LastName    string            // reservations.last_name
	PhoneNumber string            // reservations.phone_number
	ShowDate    string            // reservations.show_date
	Status      ReservationStatus // reservations.status
	Seats       []ReservationSeat // reservation_seats rows
	CreatedAt   time.Time         // reservations.created_at
	ExpiresAt   *time.Time        // reservations.expires_at (nullable)
}

// SeatKeys returns the keys of all seats in the reservation, in order.
func (r *Reservation) SeatKeys() []SeatKey {
	keys := make([]SeatKey, 0, len(r.Seats))
	for _, s := range r.Seats {
		keys = append(keys, s.Key)
	}
	return keys
}

// Expired reports whether a PENDING reservation is past its checkout
// deadline.  Terminal reservations and reservations awaiting manual
// per-seat resolution (nil ExpiresAt) never expire.
func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == ReservationPending && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// AggregateStatus derives the reservation status implied by per-seat
// decisions: APPROVED only when every seat is approved, REJECTED only when
// every seat is rejected.  Any undecided seat, or a mix of terminal
// outcomes, leaves the aggregate PENDING until all seats agree.
func AggregateStatus(seats []ReservationSeat) ReservationStatus {
	if len(seats) == 0 {
		return ReservationPending
	}
	allApproved, allRejected := true, true
	for _, s := range seats {
		if s.Decision != SeatDecisionApproved {
			allApproved = false
		}
		if s.Decision != SeatDecisionRejected {
			allRejected = false
		}
	}
	switch {
	case allApproved:
		return ReservationApproved
	case allRejected:
		return ReservationRejected
	default:
		return ReservationPending
	}
}
