package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResetJobID(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"august 2026", time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC), "usage-reset-2026-08"},
		{"january pads the month", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "usage-reset-2026-01"},
		{"non-UTC zone normalizes to UTC", time.Date(2026, 3, 1, 0, 30, 0, 0, time.FixedZone("UTC+2", 2*3600)), "usage-reset-2026-02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResetJobID(tt.at))
		})
	}
}

func TestResetJobID_SameMonthSameID(t *testing.T) {
	// The id is the idempotency key: two triggers in one month must collide.
	first := ResetJobID(time.Date(2026, 8, 1, 0, 0, 1, 0, time.UTC))
	second := ResetJobID(time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC))
	assert.Equal(t, first, second)
}

func TestResetJob_Done(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		processed int
		failed    []string
		want      bool
	}{
		{"nothing attempted", 10, 0, nil, false},
		{"partial", 10, 7, nil, false},
		{"all succeeded", 10, 10, nil, true},
		{"successes plus failures cover total", 10, 8, []string{"u-3", "u-7"}, true},
		{"failures alone do not finish early", 10, 0, []string{"u-1"}, false},
		{"empty snapshot is immediately done", 0, 0, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &ResetJob{
				TotalUsers:     tt.total,
				ProcessedUsers: tt.processed,
				FailedUserIDs:  tt.failed,
			}
			assert.Equal(t, tt.want, job.Done())
			assert.Equal(t, tt.processed+len(tt.failed), job.Attempted())
		})
	}
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2026, 8, 27, 14, 33, 12, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), got)

	// A local time just after midnight on the 1st still lands in the
	// previous UTC month.
	zone := time.FixedZone("UTC+3", 3*3600)
	got = MonthStart(time.Date(2026, 9, 1, 1, 0, 0, 0, zone))
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), got)
}
