package booking

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/theater-reservation/internal/model"
	"github.com/iliyamo/theater-reservation/internal/queue"
)

// DefaultReservationWindow is the checkout deadline granted to a newly
// created reservation.  The legacy system allowed three hours, which left
// seats unavailable far too long; ten minutes matches the session guard TTL.
const DefaultReservationWindow = 10 * time.Minute

// DefaultPhoneCap limits how many active (pending or approved)
// reservations a single phone number may hold at once.
const DefaultPhoneCap = 5

// Service is the reservation state machine.  It validates incoming
// requests, arbitrates seat acquisition through the lock manager, persists
// reservations and drives approval/rejection transitions.  All multi-seat
// mutations happen inside store transactions; the service's own job is
// ordering, validation and compensation.
type Service struct {
	store    ReservationStore
	locker   SeatLocker
	guard    SessionGuard   // nil disables the checkout-session layer
	pub      EventPublisher // nil disables event publishing
	window   time.Duration
	phoneCap int
}

// NewService wires a Service.  store and locker must be non-nil; guard and
// pub are optional collaborators.  Non-positive window or cap values fall
// back to the package defaults.
func NewService(store ReservationStore, locker SeatLocker, guard SessionGuard, pub EventPublisher, window time.Duration, phoneCap int) *Service {
	if store == nil || locker == nil {
		panic("nil store or locker passed to NewService")
	}
	if window <= 0 {
		window = DefaultReservationWindow
	}
	if phoneCap <= 0 {
		phoneCap = DefaultPhoneCap
	}
	return &Service{store: store, locker: locker, guard: guard, pub: pub, window: window, phoneCap: phoneCap}
}

// CreateReservationRequest carries the client's booking intent.  Seats are
// structured keys built by the HTTP layer; SessionHolder optionally names
// the checkout session opened during seat selection so the guard does not
// flag the requester's own session as a conflict.
type CreateReservationRequest struct {
	FirstName     string
	LastName      string
	PhoneNumber   string
	ShowDate      string
	Seats         []model.SeatKey
	SessionHolder string
}

// NormalizePhone strips separators and leading zeros from a phone number.
// It returns the empty string when the remainder is not a plausible phone
// number (7–15 digits).
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '+':
			// separators tolerated on input
		default:
			return ""
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if len(digits) < 7 || len(digits) > 15 {
		return ""
	}
	return digits
}

func (s *Service) validate(req *CreateReservationRequest) (string, error) {
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return "", &ValidationError{Reason: "first and last name are required"}
	}
	phone := NormalizePhone(req.PhoneNumber)
	if phone == "" {
		return "", &ValidationError{Reason: "invalid phone number"}
	}
	if len(req.Seats) == 0 {
		return "", &ValidationError{Reason: "at least one seat is required"}
	}
	for _, k := range req.Seats {
		if err := k.Validate(); err != nil {
			return "", &ValidationError{Reason: err.Error()}
		}
		if k.ShowDate != req.ShowDate {
			return "", &ValidationError{Reason: "all seats must belong to the requested show date"}
		}
	}
	return phone, nil
}

// CreateReservation performs the full booking flow: validation, checkout
// session check, per-phone capacity check, all-or-nothing seat lock
// acquisition and persistence of the PENDING reservation.  On any failure
// after locks were taken, the locks are released before returning so no
// orphaned holds survive a failed request.  The reservation.created event
// is published best-effort after commit.
func (s *Service) CreateReservation(ctx context.Context, req CreateReservationRequest) (*model.Reservation, error) {
	phone, err := s.validate(&req)
	if err != nil {
		return nil, err
	}
	keys := model.DedupeSeatKeys(req.Seats)

	// Coarse guard first: another checkout session working the same seats
	// means the user should reselect, no point touching seat rows yet.
	if s.guard != nil {
		busy, gerr := s.guard.CheckActiveSession(ctx, keys, req.SessionHolder)
		if gerr != nil {
			log.Printf("booking: session guard check failed, continuing without it: %v", gerr)
		} else if len(busy) > 0 {
			return nil, &ConflictError{Seats: busy}
		}
	}

	active, err := s.store.CountActiveByPhone(ctx, phone)
	if err != nil {
		return nil, &StoreError{Op: "count active reservations", Err: err}
	}
	if active >= s.phoneCap {
		return nil, ErrCapacityExceeded
	}

	// The reservation ID doubles as the seat-lock holder identity, so a
	// crashed request leaves locks traceable to the reservation that never
	// materialized and reclaimable by the reconciler.
	id := uuid.NewString()
	if err := s.locker.Acquire(ctx, keys, id, s.window); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expires := now.Add(s.window)
	res := &model.Reservation{
		ID:          id,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		PhoneNumber: phone,
		ShowDate:    req.ShowDate,
		Status:      model.ReservationPending,
		CreatedAt:   now,
		ExpiresAt:   &expires,
	}
	for _, k := range keys {
		res.Seats = append(res.Seats, model.ReservationSeat{
			ReservationID: id,
			Key:           k,
			Decision:      model.SeatDecisionPending,
		})
	}
	if err := s.store.Create(ctx, res); err != nil {
		// Compensating release: the locks were taken above and the
		// reservation never persisted, so hand the seats back now.
		if relErr := s.locker.Release(ctx, keys); relErr != nil {
			log.Printf("booking: compensating release failed for reservation %s: %v", id, relErr)
		}
		return nil, &StoreError{Op: "create reservation", Err: err}
	}

	if s.guard != nil && req.SessionHolder != "" {
		if err := s.guard.ClearSession(ctx, keys, req.SessionHolder); err != nil {
			log.Printf("booking: clearing checkout session %s failed: %v", req.SessionHolder, err)
		}
	}

	if s.pub != nil {
		ev := queue.ReservationCreatedEvent{
			ReservationID: res.ID,
			FirstName:     res.FirstName,
			LastName:      res.LastName,
			PhoneNumber:   res.PhoneNumber,
			ShowDate:      res.ShowDate,
			SeatLabels:    model.SeatLabels(keys),
			ExpiresAt:     expires.Format(time.RFC3339),
			CreatedAt:     now.Format(time.RFC3339),
		}
		if err := s.pub.PublishReservationCreated(ctx, ev); err != nil {
			// Notification delivery never rolls back a reservation.
			log.Printf("booking: publish reservation.created for %s failed: %v", res.ID, err)
		}
	}
	return res, nil
}

// GetReservation loads a reservation with its seats and decisions.
func (s *Service) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	res, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListPending returns all PENDING reservations, oldest expiry first, for
// the administrative review surface.
func (s *Service) ListPending(ctx context.Context) ([]model.Reservation, error) {
	return s.store.ListPending(ctx)
}

// ApproveReservation finalizes every seat of a PENDING reservation and
// marks it APPROVED, all within one store transaction.  Approving an
// already-approved reservation is an idempotent no-op; approving a
// rejected one is a conflict because terminal states admit no transitions.
func (s *Service) ApproveReservation(ctx context.Context, id string) error {
	prior, err := s.store.Approve(ctx, id)
	if err != nil {
		return err
	}
	if prior == model.ReservationRejected {
		return &ConflictError{}
	}
	return nil
}

// RejectReservation releases every seat of a reservation back to AVAILABLE
// and marks it REJECTED in one store transaction.  Rejecting an
// already-rejected reservation is an idempotent no-op; rejecting an
// approved one is a conflict.
func (s *Service) RejectReservation(ctx context.Context, id string) error {
	prior, err := s.store.Reject(ctx, id)
	if err != nil {
		return err
	}
	if prior == model.ReservationApproved {
		return &ConflictError{}
	}
	return nil
}

// ApproveSeat records an APPROVED decision for a single seat of a pending
// reservation.  Once every seat carries a terminal decision the aggregate
// advances: all approved makes the reservation APPROVED, all rejected
// makes it REJECTED, and mixed outcomes leave it PENDING awaiting manual
// resolution (its expiry is cleared so the reconciler will not reclaim it).
func (s *Service) ApproveSeat(ctx context.Context, id string, key model.SeatKey) (model.ReservationStatus, error) {
	return s.store.DecideSeat(ctx, id, key, model.SeatDecisionApproved)
}

// RejectSeat records a REJECTED decision for a single seat and releases
// that seat back to AVAILABLE.  Aggregation follows the ApproveSeat rules.
func (s *Service) RejectSeat(ctx context.Context, id string, key model.SeatKey) (model.ReservationStatus, error) {
	return s.store.DecideSeat(ctx, id, key, model.SeatDecisionRejected)
}
