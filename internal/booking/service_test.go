package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-reservation/internal/booking"
	"github.com/iliyamo/theater-reservation/internal/model"
	"github.com/iliyamo/theater-reservation/internal/queue"
)

// fakeLocker records acquire/release calls and can be programmed to fail.
type fakeLocker struct {
	acquireErr  error
	acquired    []model.SeatKey
	holder      string
	ttl         time.Duration
	released    [][]model.SeatKey
}

func (f *fakeLocker) Acquire(_ context.Context, keys []model.SeatKey, holder string, ttl time.Duration) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = keys
	f.holder = holder
	f.ttl = ttl
	return nil
}

func (f *fakeLocker) Release(_ context.Context, keys []model.SeatKey) error {
	f.released = append(f.released, keys)
	return nil
}

// fakeStore implements booking.ReservationStore in memory.
type fakeStore struct {
	createErr   error
	created     *model.Reservation
	activeCount int
	countErr    error

	priorStatus  model.ReservationStatus
	decideStatus model.ReservationStatus
	decideErr    error
}

func (f *fakeStore) Create(_ context.Context, res *model.Reservation) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = res
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*model.Reservation, error) {
	if f.created != nil && f.created.ID == id {
		return f.created, nil
	}
	return nil, booking.ErrNotFound
}

func (f *fakeStore) ListPending(_ context.Context) ([]model.Reservation, error) { return nil, nil }

func (f *fakeStore) CountActiveByPhone(_ context.Context, _ string) (int, error) {
	return f.activeCount, f.countErr
}

func (f *fakeStore) Approve(_ context.Context, _ string) (model.ReservationStatus, error) {
	return f.priorStatus, nil
}

func (f *fakeStore) Reject(_ context.Context, _ string) (model.ReservationStatus, error) {
	return f.priorStatus, nil
}

func (f *fakeStore) DecideSeat(_ context.Context, _ string, _ model.SeatKey, _ model.SeatDecision) (model.ReservationStatus, error) {
	return f.decideStatus, f.decideErr
}

// fakeGuard reports a fixed busy set and records cleared sessions.
type fakeGuard struct {
	busy     []model.SeatKey
	checkErr error
	cleared  []string
}

func (f *fakeGuard) CheckActiveSession(_ context.Context, _ []model.SeatKey, _ string) ([]model.SeatKey, error) {
	return f.busy, f.checkErr
}

func (f *fakeGuard) CreateSession(_ context.Context, _ []model.SeatKey, _ string) (*model.ActiveSession, error) {
	return nil, nil
}

func (f *fakeGuard) ClearSession(_ context.Context, _ []model.SeatKey, holder string) error {
	f.cleared = append(f.cleared, holder)
	return nil
}

// fakePublisher collects published events.
type fakePublisher struct {
	events []queue.ReservationCreatedEvent
	err    error
}

func (f *fakePublisher) PublishReservationCreated(_ context.Context, ev queue.ReservationCreatedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func validRequest() booking.CreateReservationRequest {
	return booking.CreateReservationRequest{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		PhoneNumber: "0912 345 678",
		ShowDate:    "2024-05-01",
		Seats: []model.SeatKey{
			{ShowDate: "2024-05-01", Row: "A", Number: 1},
			{ShowDate: "2024-05-01", Row: "A", Number: 2},
		},
		SessionHolder: "sess-1",
	}
}

func TestCreateReservationSuccess(t *testing.T) {
	store := &fakeStore{}
	locker := &fakeLocker{}
	guard := &fakeGuard{}
	pub := &fakePublisher{}
	svc := booking.NewService(store, locker, guard, pub, 10*time.Minute, 5)

	res, err := svc.CreateReservation(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, model.ReservationPending, res.Status)
	assert.Equal(t, "912345678", res.PhoneNumber, "leading zero stripped")
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, res.CreatedAt.Add(10*time.Minute), *res.ExpiresAt)
	assert.Len(t, res.Seats, 2)
	for _, s := range res.Seats {
		assert.Equal(t, model.SeatDecisionPending, s.Decision)
		assert.Equal(t, res.ID, s.ReservationID)
	}

	// lock holder identity is the reservation id
	assert.Equal(t, res.ID, locker.holder)
	assert.Equal(t, res.SeatKeys(), locker.acquired)
	assert.Equal(t, 10*time.Minute, locker.ttl)
	assert.Empty(t, locker.released)

	// session cleared and event published after commit
	assert.Equal(t, []string{"sess-1"}, guard.cleared)
	require.Len(t, pub.events, 1)
	assert.Equal(t, res.ID, pub.events[0].ReservationID)
	assert.Equal(t, []string{"A-1", "A-2"}, pub.events[0].SeatLabels)
}

func TestCreateReservationValidation(t *testing.T) {
	svc := booking.NewService(&fakeStore{}, &fakeLocker{}, nil, nil, 0, 0)

	tests := []struct {
		name   string
		mutate func(*booking.CreateReservationRequest)
	}{
		{"missing name", func(r *booking.CreateReservationRequest) { r.FirstName = "  " }},
		{"bad phone", func(r *booking.CreateReservationRequest) { r.PhoneNumber = "call me" }},
		{"no seats", func(r *booking.CreateReservationRequest) { r.Seats = nil }},
		{"seat from another show date", func(r *booking.CreateReservationRequest) {
			r.Seats[0].ShowDate = "2024-05-02"
		}},
		{"invalid seat number", func(r *booking.CreateReservationRequest) { r.Seats[0].Number = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := svc.CreateReservation(context.Background(), req)
			assert.True(t, booking.IsValidation(err), "got %v", err)
		})
	}
}

func TestCreateReservationPhoneCap(t *testing.T) {
	store := &fakeStore{activeCount: 5}
	locker := &fakeLocker{}
	svc := booking.NewService(store, locker, nil, nil, 10*time.Minute, 5)

	_, err := svc.CreateReservation(context.Background(), validRequest())
	assert.ErrorIs(t, err, booking.ErrCapacityExceeded)
	// capacity denial happens before any seat is touched
	assert.Empty(t, locker.acquired)
	assert.Empty(t, locker.released)
}

func TestCreateReservationSeatConflict(t *testing.T) {
	conflict := &booking.ConflictError{Seats: []model.SeatKey{{ShowDate: "2024-05-01", Row: "A", Number: 1}}}
	store := &fakeStore{}
	svc := booking.NewService(store, &fakeLocker{acquireErr: conflict}, nil, nil, 10*time.Minute, 5)

	_, err := svc.CreateReservation(context.Background(), validRequest())
	var ce *booking.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, conflict.Seats, ce.Seats)
	assert.Nil(t, store.created)
}

func TestCreateReservationGuardedSeats(t *testing.T) {
	busy := []model.SeatKey{{ShowDate: "2024-05-01", Row: "A", Number: 2}}
	locker := &fakeLocker{}
	svc := booking.NewService(&fakeStore{}, locker, &fakeGuard{busy: busy}, nil, 10*time.Minute, 5)

	_, err := svc.CreateReservation(context.Background(), validRequest())
	var ce *booking.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, busy, ce.Seats)
	assert.Empty(t, locker.acquired)
}

func TestCreateReservationGuardErrorIsNotFatal(t *testing.T) {
	svc := booking.NewService(&fakeStore{}, &fakeLocker{}, &fakeGuard{checkErr: errors.New("redis down")}, nil, 10*time.Minute, 5)

	res, err := svc.CreateReservation(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestCreateReservationCompensatesOnStoreFailure(t *testing.T) {
	store := &fakeStore{createErr: errors.New("deadlock")}
	locker := &fakeLocker{}
	svc := booking.NewService(store, locker, nil, nil, 10*time.Minute, 5)

	_, err := svc.CreateReservation(context.Background(), validRequest())
	var se *booking.StoreError
	require.ErrorAs(t, err, &se)

	// locks taken before the failed insert must be handed back
	require.Len(t, locker.released, 1)
	assert.Equal(t, locker.acquired, locker.released[0])
}

func TestCreateReservationPublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	svc := booking.NewService(&fakeStore{}, &fakeLocker{}, nil, pub, 10*time.Minute, 5)

	res, err := svc.CreateReservation(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestCreateReservationDeduplicatesSeats(t *testing.T) {
	req := validRequest()
	req.Seats = append(req.Seats, req.Seats[0])
	locker := &fakeLocker{}
	svc := booking.NewService(&fakeStore{}, locker, nil, nil, 10*time.Minute, 5)

	res, err := svc.CreateReservation(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Seats, 2)
	assert.Len(t, locker.acquired, 2)
}

func TestApproveReservationIdempotency(t *testing.T) {
	ctx := context.Background()

	// re-approving an approved reservation is a no-op
	svc := booking.NewService(&fakeStore{priorStatus: model.ReservationApproved}, &fakeLocker{}, nil, nil, 0, 0)
	assert.NoError(t, svc.ApproveReservation(ctx, "res-1"))

	// approving a rejected reservation is a conflict
	svc = booking.NewService(&fakeStore{priorStatus: model.ReservationRejected}, &fakeLocker{}, nil, nil, 0, 0)
	assert.True(t, booking.IsConflict(svc.ApproveReservation(ctx, "res-1")))

	// approving a pending reservation succeeds
	svc = booking.NewService(&fakeStore{priorStatus: model.ReservationPending}, &fakeLocker{}, nil, nil, 0, 0)
	assert.NoError(t, svc.ApproveReservation(ctx, "res-1"))
}

func TestRejectReservationIdempotency(t *testing.T) {
	ctx := context.Background()

	svc := booking.NewService(&fakeStore{priorStatus: model.ReservationRejected}, &fakeLocker{}, nil, nil, 0, 0)
	assert.NoError(t, svc.RejectReservation(ctx, "res-1"))

	svc = booking.NewService(&fakeStore{priorStatus: model.ReservationApproved}, &fakeLocker{}, nil, nil, 0, 0)
	assert.True(t, booking.IsConflict(svc.RejectReservation(ctx, "res-1")))
}

func TestSeatDecisionsDelegateToStore(t *testing.T) {
	ctx := context.Background()
	key := model.SeatKey{ShowDate: "2024-05-01", Row: "A", Number: 1}

	svc := booking.NewService(&fakeStore{decideStatus: model.ReservationPending}, &fakeLocker{}, nil, nil, 0, 0)
	status, err := svc.ApproveSeat(ctx, "res-1", key)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, status)

	svc = booking.NewService(&fakeStore{decideStatus: model.ReservationRejected}, &fakeLocker{}, nil, nil, 0, 0)
	status, err = svc.RejectSeat(ctx, "res-1", key)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationRejected, status)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0912345678", "912345678"},
		{"+98 (912) 345-678", "98912345678"},
		{"912345678", "912345678"},
		{"000912345678", "912345678"},
		{"12345", ""},          // too short
		{"12345678901234567", ""}, // too long
		{"phone", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, booking.NormalizePhone(tt.in), "input %q", tt.in)
	}
}
