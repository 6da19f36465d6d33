package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/theater-reservation/internal/model"
)

func pendingSeat(n uint32, holder string, until time.Time) model.Seat {
	return model.Seat{
		Key:         model.SeatKey{ShowDate: "2024-05-01", Row: "A", Number: n},
		Status:      model.SeatPending,
		LockedBy:    &holder,
		LockedUntil: &until,
	}
}

func TestEvaluateAcquire(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	live := now.Add(5 * time.Minute)
	stale := now.Add(-time.Second)

	approved := model.Seat{
		Key:    model.SeatKey{ShowDate: "2024-05-01", Row: "B", Number: 3},
		Status: model.SeatApproved,
	}
	free := model.Seat{
		Key:    model.SeatKey{ShowDate: "2024-05-01", Row: "B", Number: 4},
		Status: model.SeatAvailable,
	}

	tests := []struct {
		name     string
		existing []model.Seat
		holder   string
		want     []model.SeatKey
	}{
		{
			name: "no rows means no conflicts",
		},
		{
			name:     "available row does not conflict",
			existing: []model.Seat{free},
			holder:   "res-1",
		},
		{
			name:     "approved seat always conflicts",
			existing: []model.Seat{approved},
			holder:   "res-1",
			want:     []model.SeatKey{approved.Key},
		},
		{
			name:     "foreign unexpired lock conflicts",
			existing: []model.Seat{pendingSeat(1, "res-other", live)},
			holder:   "res-1",
			want:     []model.SeatKey{{ShowDate: "2024-05-01", Row: "A", Number: 1}},
		},
		{
			name:     "expired foreign lock is re-acquirable",
			existing: []model.Seat{pendingSeat(1, "res-other", stale)},
			holder:   "res-1",
		},
		{
			name:     "own lock refreshes without conflict",
			existing: []model.Seat{pendingSeat(1, "res-1", live)},
			holder:   "res-1",
		},
		{
			name: "one conflict fails the whole set",
			existing: []model.Seat{
				pendingSeat(1, "res-1", live),
				pendingSeat(2, "res-other", live),
				free,
			},
			holder: "res-1",
			want:   []model.SeatKey{{ShowDate: "2024-05-01", Row: "A", Number: 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateAcquire(tt.existing, tt.holder, now)
			assert.Equal(t, tt.want, got)
		})
	}
}
