package fetcher

import (
	"fmt"
	"strings"
	"time"
)

const (
	guideDateLayout  = "2-1-2006"
	guideClockLayout = "15:04"
)

// NormalizeSchedule combines the guide's calendar date with its clock-only start and end
// times. A program whose end time of day is earlier than its start time crosses midnight
// and ends on the following day. Equal times are treated as the same day.
func NormalizeSchedule(date, start, end string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(guideDateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("date %q: %w", date, err)
	}
	startClock, err := time.Parse(guideClockLayout, strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start time %q: %w", start, err)
	}
	endClock, err := time.Parse(guideClockLayout, strings.TrimSpace(end))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end time %q: %w", end, err)
	}

	endDay := day.Day()
	if minuteOfDay(endClock) < minuteOfDay(startClock) {
		endDay++
	}
	y, m, d := day.Date()
	startAt := time.Date(y, m, d, startClock.Hour(), startClock.Minute(), 0, 0, loc)
	endAt := time.Date(y, m, endDay, endClock.Hour(), endClock.Minute(), 0, 0, loc)
	return startAt, endAt, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
