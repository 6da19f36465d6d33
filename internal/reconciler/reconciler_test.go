package reconciler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/theater-reservation/internal/reconciler"
)

// fakeStore is an in-memory reconciler.Store whose expired set shrinks as
// reservations are reclaimed, mimicking the real repository.
type fakeStore struct {
	expired  map[string]bool
	orphaned int64

	listErr    error
	reclaimErr map[string]error

	reclaimCalls int
}

func newFakeStore(ids ...string) *fakeStore {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return &fakeStore{expired: m, reclaimErr: map[string]error{}}
}

func (f *fakeStore) ListExpiredPending(_ context.Context, limit int) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]string, 0, len(f.expired))
	for id := range f.expired {
		if len(out) == limit {
			break
		}
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeStore) ReclaimExpired(_ context.Context, id string) (bool, error) {
	f.reclaimCalls++
	if err := f.reclaimErr[id]; err != nil {
		return false, err
	}
	if !f.expired[id] {
		return false, nil
	}
	delete(f.expired, id)
	return true, nil
}

func (f *fakeStore) ReleaseOrphanedLocks(_ context.Context) (int64, error) {
	n := f.orphaned
	f.orphaned = 0
	return n, nil
}

func TestSweepOnceReclaimsAllExpired(t *testing.T) {
	store := newFakeStore("res-1", "res-2", "res-3")
	store.orphaned = 2
	r := reconciler.New(store, time.Minute)

	reclaimed, freed := r.SweepOnce(context.Background())
	assert.Equal(t, 3, reclaimed)
	assert.Equal(t, int64(2), freed)
	assert.Empty(t, store.expired)
}

func TestSweepOnceIsIdempotent(t *testing.T) {
	store := newFakeStore("res-1")
	r := reconciler.New(store, time.Minute)

	reclaimed, _ := r.SweepOnce(context.Background())
	assert.Equal(t, 1, reclaimed)

	// the second pass finds nothing and reclaims nothing
	reclaimed, freed := r.SweepOnce(context.Background())
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, int64(0), freed)
}

func TestSweepOnceContinuesPastReclaimErrors(t *testing.T) {
	store := newFakeStore("res-1", "res-2", "res-3")
	store.reclaimErr["res-2"] = errors.New("deadlock")
	r := reconciler.New(store, time.Minute)

	reclaimed, _ := r.SweepOnce(context.Background())
	assert.Equal(t, 2, reclaimed, "one failure must not abort the sweep")
	assert.Equal(t, 3, store.reclaimCalls)
}

func TestSweepOnceToleratesListError(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection lost")
	store.orphaned = 1
	r := reconciler.New(store, time.Minute)

	reclaimed, freed := r.SweepOnce(context.Background())
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, int64(1), freed, "orphan release still runs when listing fails")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newFakeStore("res-1")
	r := reconciler.New(store, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// let at least one tick fire, then stop
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after context cancellation")
	}
	assert.Empty(t, store.expired)
}
