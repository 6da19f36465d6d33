package booking

// ports.go declares the collaborator interfaces the reservation state
// machine depends on.  Concrete implementations live in internal/repository
// (MySQL), internal/inventory (seat lock manager), internal/session (Redis
// guard) and internal/service (RabbitMQ publisher); tests substitute fakes.

import (
	"context"
	"time"

	"github.com/iliyamo/theater-reservation/internal/model"
	"github.com/iliyamo/theater-reservation/internal/queue"
)

// SeatLocker grants and releases time-bounded exclusive holds on seats.
// Acquire is all-or-nothing across the whole key set: on conflict it
// returns a *ConflictError naming the contended seats and writes nothing.
type SeatLocker interface {
	Acquire(ctx context.Context, keys []model.SeatKey, holder string, ttl time.Duration) error
	Release(ctx context.Context, keys []model.SeatKey) error
}

// ReservationStore persists reservations and executes status transitions
// atomically together with their seat finalization or release.
//
// Approve and Reject return the status the reservation had before the
// call; they are no-ops when that status already matches the requested
// transition, and must not mutate a reservation in the opposite terminal
// state.  DecideSeat records one per-seat outcome and returns the new
// aggregate status derived from all decisions.
type ReservationStore interface {
	Create(ctx context.Context, res *model.Reservation) error
	Get(ctx context.Context, id string) (*model.Reservation, error)
	ListPending(ctx context.Context) ([]model.Reservation, error)
	CountActiveByPhone(ctx context.Context, phone string) (int, error)
	Approve(ctx context.Context, id string) (model.ReservationStatus, error)
	Reject(ctx context.Context, id string) (model.ReservationStatus, error)
	DecideSeat(ctx context.Context, id string, key model.SeatKey, decision model.SeatDecision) (model.ReservationStatus, error)
}

// SessionGuard is the coarse checkout-session layer above per-seat locks.
// CheckActiveSession returns the subset of keys claimed by an unexpired
// session belonging to a different holder.
type SessionGuard interface {
	CheckActiveSession(ctx context.Context, keys []model.SeatKey, holder string) ([]model.SeatKey, error)
	CreateSession(ctx context.Context, keys []model.SeatKey, holder string) (*model.ActiveSession, error)
	ClearSession(ctx context.Context, keys []model.SeatKey, holder string) error
}

// EventPublisher emits the reservation.created event consumed by the
// notification collaborator.  Delivery failure must never roll back a
// reservation; implementations log and return the error for visibility.
type EventPublisher interface {
	PublishReservationCreated(ctx context.Context, ev queue.ReservationCreatedEvent) error
}
