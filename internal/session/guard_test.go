package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-reservation/internal/model"
	"github.com/iliyamo/theater-reservation/internal/session"
)

func newTestGuard(t *testing.T) (*session.Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return session.NewGuard(rdb, time.Minute), mr
}

func seatSet(nums ...uint32) []model.SeatKey {
	out := make([]model.SeatKey, 0, len(nums))
	for _, n := range nums {
		out = append(out, model.SeatKey{ShowDate: "2024-05-01", Row: "A", Number: n})
	}
	return out
}

func TestCreateSessionGuardsSeats(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	sess, err := g.CreateSession(ctx, seatSet(1, 2), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.Holder)
	assert.Equal(t, "2024-05-01", sess.ShowDate)
	assert.Equal(t, seatSet(1, 2), sess.SeatKeys)
	assert.True(t, sess.ExpiresAt.After(time.Now()))

	// another holder sees both seats as busy
	busy, err := g.CheckActiveSession(ctx, seatSet(1, 2), "sess-2")
	require.NoError(t, err)
	assert.Equal(t, seatSet(1, 2), busy)

	// the owner sees no conflicts on its own seats
	busy, err = g.CheckActiveSession(ctx, seatSet(1, 2), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, busy)
}

func TestCreateSessionConflict(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	_, err := g.CreateSession(ctx, seatSet(1, 2), "sess-1")
	require.NoError(t, err)

	// overlapping seat set from another holder is rejected, and the
	// non-overlapping seat stays unguarded
	_, err = g.CreateSession(ctx, seatSet(2, 3), "sess-2")
	var guarded *session.AlreadyGuardedError
	require.ErrorAs(t, err, &guarded)
	assert.Equal(t, seatSet(2), guarded.Seats)

	busy, err := g.CheckActiveSession(ctx, seatSet(3), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, busy, "failed create must not leave partial guards")
}

func TestCreateSessionRefreshOwn(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	_, err := g.CreateSession(ctx, seatSet(1), "sess-1")
	require.NoError(t, err)
	_, err = g.CreateSession(ctx, seatSet(1), "sess-1")
	assert.NoError(t, err, "re-creating one's own session refreshes it")
}

func TestCreateSessionRefreshExtendsTTL(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()

	_, err := g.CreateSession(ctx, seatSet(1), "sess-1")
	require.NoError(t, err)

	mr.FastForward(40 * time.Second)
	_, err = g.CreateSession(ctx, seatSet(1), "sess-1")
	require.NoError(t, err)

	// past the original deadline but within the refreshed one
	mr.FastForward(40 * time.Second)
	busy, err := g.CheckActiveSession(ctx, seatSet(1), "sess-2")
	require.NoError(t, err)
	assert.Equal(t, seatSet(1), busy, "refresh must reset the guard TTL")
}

func TestSessionExpiresByTTL(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()

	_, err := g.CreateSession(ctx, seatSet(1), "sess-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	busy, err := g.CheckActiveSession(ctx, seatSet(1), "sess-2")
	require.NoError(t, err)
	assert.Empty(t, busy, "expired guards vanish on their own")

	_, err = g.CreateSession(ctx, seatSet(1), "sess-2")
	assert.NoError(t, err)
}

func TestClearSessionOnlyOwnKeys(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	_, err := g.CreateSession(ctx, seatSet(1), "sess-1")
	require.NoError(t, err)
	_, err = g.CreateSession(ctx, seatSet(2), "sess-2")
	require.NoError(t, err)

	// clearing with the wrong holder leaves the guard intact
	require.NoError(t, g.ClearSession(ctx, seatSet(1), "sess-2"))
	busy, err := g.CheckActiveSession(ctx, seatSet(1), "sess-2")
	require.NoError(t, err)
	assert.Equal(t, seatSet(1), busy)

	// the owner clears its guard; the other session's seat is untouched
	require.NoError(t, g.ClearSession(ctx, seatSet(1), "sess-1"))
	busy, err = g.CheckActiveSession(ctx, seatSet(1, 2), "sess-3")
	require.NoError(t, err)
	assert.Equal(t, seatSet(2), busy)
}

func TestClearSessionIsIdempotent(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	_, err := g.CreateSession(ctx, seatSet(1), "sess-1")
	require.NoError(t, err)
	require.NoError(t, g.ClearSession(ctx, seatSet(1), "sess-1"))
	assert.NoError(t, g.ClearSession(ctx, seatSet(1), "sess-1"))
}
