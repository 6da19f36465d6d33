// Package session implements the checkout-session guard: a coarse,
// short-TTL claim over an exact seat combination held in Redis while a
// user works through seat selection.  It closes the gap between what the
// seat-map UI shows and the moment per-seat locks are actually taken; it
// is defense in depth above the lock manager, never a substitute for it.
package session

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/theater-reservation/internal/model"
)

// DefaultTTL bounds how long a checkout session may guard its seats.
const DefaultTTL = 10 * time.Minute

// Guard stores one Redis key per guarded seat (value: holder identity)
// plus a signature key for the whole seat set.  Expiry is enforced by
// Redis TTLs, so abandoned sessions vanish on their own.
type Guard struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewGuard returns a Guard over the given Redis client.  A non-positive
// ttl falls back to DefaultTTL.
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if rdb == nil {
		panic("nil redis client passed to NewGuard")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl, prefix: "checkout"}
}

func (g *Guard) seatKey(k model.SeatKey) string {
	return g.prefix + ":seat:" + k.ID()
}

// signature derives a stable identity for the exact seat combination,
// independent of request ordering.
func (g *Guard) signature(keys []model.SeatKey) string {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ID())
	}
	sort.Strings(ids)
	h := sha1.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:sig:%x", g.prefix, h.Sum(nil))
}

// CheckActiveSession returns the subset of keys currently guarded by an
// unexpired session belonging to a different holder.  An empty result
// means no foreign checkout is working any of these seats.
func (g *Guard) CheckActiveSession(ctx context.Context, keys []model.SeatKey, holder string) ([]model.SeatKey, error) {
	keys = model.DedupeSeatKeys(keys)
	if len(keys) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, g.seatKey(k))
	}
	vals, err := g.rdb.MGet(ctx, names...).Result()
	if err != nil {
		return nil, err
	}
	var busy []model.SeatKey
	for i, v := range vals {
		owner, ok := v.(string)
		if !ok || owner == "" {
			continue // no guard on this seat
		}
		if owner != holder {
			busy = append(busy, keys[i])
		}
	}
	return busy, nil
}

// createScript claims every seat key (the signature key comes last in
// KEYS) in one atomic step: either all keys belong to the holder
// afterwards, or the script writes nothing and returns the 1-based
// indices of the seats owned by someone else.  Running the check and the
// writes server-side closes the window where two racing creates could
// each pass a read-then-write check and interleave their SETs.
var createScript = redis.NewScript(`
	local busy = {}
	for i = 1, #KEYS - 1 do
		local owner = redis.call('GET', KEYS[i])
		if owner and owner ~= ARGV[1] then
			busy[#busy + 1] = i
		end
	end
	if #busy > 0 then
		return busy
	end
	for i = 1, #KEYS do
		redis.call('SET', KEYS[i], ARGV[1], 'PX', ARGV[2])
	end
	return busy
`)

// CreateSession opens the guard for the holder over the given seats.
// Seats already guarded by another unexpired session cause a conflict and
// nothing is written.  Re-creating one's own session refreshes all TTLs.
func (g *Guard) CreateSession(ctx context.Context, keys []model.SeatKey, holder string) (*model.ActiveSession, error) {
	keys = model.DedupeSeatKeys(keys)
	if len(keys) == 0 || holder == "" {
		return nil, fmt.Errorf("session guard: seats and holder are required")
	}
	names := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		names = append(names, g.seatKey(k))
	}
	names = append(names, g.signature(keys))
	now := time.Now().UTC()
	res, err := createScript.Run(ctx, g.rdb, names, holder, g.ttl.Milliseconds()).Result()
	if err != nil {
		return nil, err
	}
	if indices, ok := res.([]interface{}); ok && len(indices) > 0 {
		busy := make([]model.SeatKey, 0, len(indices))
		for _, v := range indices {
			i, ok := v.(int64)
			if !ok || i < 1 || int(i) > len(keys) {
				continue
			}
			busy = append(busy, keys[i-1])
		}
		return nil, &AlreadyGuardedError{Seats: busy}
	}
	return &model.ActiveSession{
		Holder:    holder,
		ShowDate:  keys[0].ShowDate,
		SeatKeys:  keys,
		ExpiresAt: now.Add(g.ttl),
		CreatedAt: now,
	}, nil
}

// clearScript deletes a guard key only when it still belongs to the
// holder, so an expired-and-reclaimed seat guard is never deleted out from
// under its new owner.
var clearScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// ClearSession closes the holder's guard over the given seats.  Keys owned
// by other sessions are untouched; clearing an already-expired session is
// a no-op.
func (g *Guard) ClearSession(ctx context.Context, keys []model.SeatKey, holder string) error {
	keys = model.DedupeSeatKeys(keys)
	if len(keys) == 0 || holder == "" {
		return nil
	}
	for _, k := range keys {
		if err := clearScript.Run(ctx, g.rdb, []string{g.seatKey(k)}, holder).Err(); err != nil && err != redis.Nil {
			return err
		}
	}
	if err := clearScript.Run(ctx, g.rdb, []string{g.signature(keys)}, holder).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// AlreadyGuardedError reports the seats that blocked CreateSession.
type AlreadyGuardedError struct {
	Seats []model.SeatKey
}

func (e *AlreadyGuardedError) Error() string {
	return fmt.Sprintf("seats guarded by another checkout session: %v", model.SeatLabels(e.Seats))
}
