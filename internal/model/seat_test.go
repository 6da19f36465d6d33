package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-reservation/internal/model"
)

func TestSeatKeyLabelAndID(t *testing.T) {
	k := model.SeatKey{ShowDate: "2024-05-01", Row: "A", Number: 12}
	assert.Equal(t, "A-12", k.Label())
	assert.Equal(t, "2024-05-01_A-12", k.ID())
}

func TestParseSeatKeyRoundTrip(t *testing.T) {
	k := model.SeatKey{ShowDate: "2024-05-01", Row: "AA", Number: 7}
	parsed, err := model.ParseSeatKey(k.ID())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseSeatKeyRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"2024-05-01",          // no seat part
		"2024-05-01_A",        // no number
		"2024-05-01_A-x",      // non-numeric number
		"2024-05-01_A-0",      // zero seat number
		"not-a-date_A-1",      // bad date
		"2024-05-01_-1",       // empty row
	}
	for _, in := range cases {
		_, err := model.ParseSeatKey(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestSeatKeyValidateRejectsReservedSeparators(t *testing.T) {
	k := model.SeatKey{ShowDate: "2024-05-01", Row: "A-B", Number: 1}
	assert.Error(t, k.Validate())
	k.Row = "A_B"
	assert.Error(t, k.Validate())
}

func TestDedupeSeatKeysPreservesOrder(t *testing.T) {
	a := model.SeatKey{ShowDate: "2024-05-01", Row: "A", Number: 1}
	b := model.SeatKey{ShowDate: "2024-05-01", Row: "A", Number: 2}
	out := model.DedupeSeatKeys([]model.SeatKey{a, b, a, b, a})
	assert.Equal(t, []model.SeatKey{a, b}, out)
}

func TestSeatHeldByAndLockExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	holder := "res-1"
	until := now.Add(5 * time.Minute)
	seat := model.Seat{
		Key:         model.SeatKey{ShowDate: "2024-05-01", Row: "A", Number: 1},
		Status:      model.SeatPending,
		LockedBy:    &holder,
		LockedUntil: &until,
	}

	assert.True(t, seat.HeldBy("res-1", now))
	assert.False(t, seat.HeldBy("res-2", now))
	assert.False(t, seat.LockExpired(now))

	// past the deadline the hold no longer counts
	later := until.Add(time.Second)
	assert.False(t, seat.HeldBy("res-1", later))
	assert.True(t, seat.LockExpired(later))

	// available seats are never held and never expired
	seat.Status = model.SeatAvailable
	assert.False(t, seat.HeldBy("res-1", now))
	assert.False(t, seat.LockExpired(later))
}
