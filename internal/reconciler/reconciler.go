// Package reconciler runs the background sweep that reclaims expired
// pending reservations and orphaned seat locks, returning their seats to
// AVAILABLE.  It is best-effort: failures are logged, never surfaced to
// request handling, and overlapping sweeps (including across instances)
// are harmless because every reclaim step is idempotent.
package reconciler

import (
	"context"
	"log"
	"time"
)

// DefaultInterval is the pause between sweeps.
const DefaultInterval = time.Minute

// batchSize bounds how many expired reservations one sweep will reclaim,
// keeping a backlog from turning a sweep into a long-running job.
const batchSize = 100

// Store is the storage surface the reconciler needs.  It is implemented
// by repository.ReservationRepo.
type Store interface {
	// ListExpiredPending returns IDs of pending reservations past their
	// deadline, oldest first, at most limit of them.
	ListExpiredPending(ctx context.Context, limit int) ([]string, error)
	// ReclaimExpired releases one reservation's seats and deletes it in a
	// single transaction, reporting whether this call reclaimed it.
	ReclaimExpired(ctx context.Context, id string) (bool, error)
	// ReleaseOrphanedLocks frees expired seat locks whose holder never
	// persisted a reservation, returning how many seats were freed.
	ReleaseOrphanedLocks(ctx context.Context) (int64, error)
}

// Reconciler periodically sweeps the store for expired holds.
type Reconciler struct {
	store    Store
	interval time.Duration
}

// New returns a Reconciler.  A non-positive interval falls back to
// DefaultInterval.
func New(store Store, interval time.Duration) *Reconciler {
	if store == nil {
		panic("nil store passed to reconciler.New")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{store: store, interval: interval}
}

// Run sweeps on a fixed interval until ctx is cancelled.  It is intended
// to run in its own goroutine alongside the HTTP server.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("reconciler: sweeping every %s", r.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("reconciler: stopped")
			return
		case <-ticker.C:
			reclaimed, freed := r.SweepOnce(ctx)
			if reclaimed > 0 || freed > 0 {
				log.Printf("reconciler: reclaimed %d expired reservations, freed %d orphaned seat locks", reclaimed, freed)
			}
		}
	}
}

// SweepOnce performs a single reclamation pass: expired pending
// reservations first (oldest deadline first, so reclaim latency stays
// bounded fairly), then orphaned seat locks.  It returns the number of
// reservations reclaimed and orphaned seats freed; every error is logged
// and the sweep moves on.
func (r *Reconciler) SweepOnce(ctx context.Context) (reclaimed int, freed int64) {
	ids, err := r.store.ListExpiredPending(ctx, batchSize)
	if err != nil {
		log.Printf("reconciler: listing expired reservations failed: %v", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return reclaimed, freed
		}
		ok, err := r.store.ReclaimExpired(ctx, id)
		if err != nil {
			log.Printf("reconciler: reclaiming reservation %s failed: %v", id, err)
			continue
		}
		if ok {
			reclaimed++
		}
	}

	freed, err = r.store.ReleaseOrphanedLocks(ctx)
	if err != nil {
		log.Printf("reconciler: releasing orphaned locks failed: %v", err)
		freed = 0
	}
	return reclaimed, freed
}
