// Package queue defines message payloads exchanged over the message broker.
package queue

// ReservationCreatedEvent is published when a pending reservation has been
// persisted with its seat locks in place.  It carries enough information
// for downstream consumers (notification sender, audit log) to act without
// querying the primary database.
type ReservationCreatedEvent struct {
	ReservationID string   `json:"reservation_id"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	PhoneNumber   string   `json:"phone_number"`
	ShowDate      string   `json:"show_date"`
	SeatLabels    []string `json:"seats"`
	ExpiresAt     string   `json:"expires_at"`
	CreatedAt     string   `json:"created_at"`
}
