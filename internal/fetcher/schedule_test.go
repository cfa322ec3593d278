package fetcher

import (
	"fmt"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSchedule(t *testing.T) {
	tests := []struct {
		name             string
		date, start, end string
		wantStart        time.Time
		wantEnd          time.Time
	}{
		{
			name: "same day", date: "04-03-2025", start: "10:00", end: "11:30",
			wantStart: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 4, 11, 30, 0, 0, time.UTC),
		},
		{
			name: "crosses midnight", date: "4-3-2025", start: "22:43", end: "00:43",
			wantStart: time.Date(2025, 3, 4, 22, 43, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 5, 0, 43, 0, 0, time.UTC),
		},
		{
			name: "crosses year end", date: "31-12-2024", start: "23:30", end: "00:30",
			wantStart: time.Date(2024, 12, 31, 23, 30, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC),
		},
		{
			name: "equal times stay on the same day", date: "1-1-2025", start: "06:00", end: "06:00",
			wantStart: time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "one minute before start", date: "28-2-2024", start: "06:00", end: "05:59",
			wantStart: time.Date(2024, 2, 28, 6, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 2, 29, 5, 59, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := NormalizeSchedule(tt.date, tt.start, tt.end, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestNormalizeScheduleInvalid(t *testing.T) {
	for _, in := range [][3]string{
		{"", "10:00", "11:00"},
		{"2025-01-01", "10:00", "11:00"},
		{"1-1-2025", "", "11:00"},
		{"1-1-2025", "10:00", "25:00"},
		{"1-1-2025", "10h", "11:00"},
	} {
		_, _, err := NormalizeSchedule(in[0], in[1], in[2], time.UTC)
		assert.Error(t, err, "%v", in)
	}
}

// Every pair of quarter-hour clock times on one date.
func TestNormalizeScheduleEndDateRule(t *testing.T) {
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	nextDay := day.AddDate(0, 0, 1)
	for s := 0; s < 24*60; s += 15 {
		for e := 0; e < 24*60; e += 15 {
			start := fmt.Sprintf("%02d:%02d", s/60, s%60)
			end := fmt.Sprintf("%02d:%02d", e/60, e%60)
			startAt, endAt, err := NormalizeSchedule("15-6-2025", start, end, time.UTC)
			require.NoError(t, err)

			assert.Equal(t, day.YearDay(), startAt.YearDay())
			if e < s {
				assert.Equal(t, nextDay.YearDay(), endAt.YearDay(), "%s-%s", start, end)
			} else {
				assert.Equal(t, day.YearDay(), endAt.YearDay(), "%s-%s", start, end)
			}
			assert.False(t, endAt.Before(startAt), "%s-%s", start, end)
		}
	}
}

func TestNormalizeScheduleLocation(t *testing.T) {
	lisbon, err := time.LoadLocation("Europe/Lisbon")
	require.NoError(t, err)

	start, end, err := NormalizeSchedule("15-7-2025", "23:00", "01:00", lisbon)
	require.NoError(t, err)
	// Lisbon is UTC+1 in July.
	assert.Equal(t, time.Date(2025, 7, 15, 22, 0, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, time.Date(2025, 7, 16, 0, 0, 0, 0, time.UTC), end.UTC())
}
