// Package timeutil provides the date arithmetic and epoch conversions the
// rule evaluators depend on. All calendar math is UTC.
package timeutil

import (
	"fmt"
	"time"
)

// Boundary strings for converting a calendar date to an epoch instant.
const (
	StartOfDay = "00:00:00"
	EndOfDay   = "23:59:59"
)

const dateTimeLayout = "2006-01-02 15:04:05"

// Clock supplies the current time. Inject a fixed clock in tests; the
// evaluators are otherwise pure.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time {
	return c.T
}

// DaysAgo returns the calendar date n days before the clock's current date.
func DaysAgo(clock Clock, n int) time.Time {
	return truncateToDate(clock.Now()).AddDate(0, 0, -n)
}

// MonthsAgo returns the calendar date n months before the clock's current
// date, with time.AddDate's usual normalization for short months.
func MonthsAgo(clock Clock, n int) time.Time {
	return truncateToDate(clock.Now()).AddDate(0, -n, 0)
}

// ToEpochMillis combines a calendar date ("YYYY-MM-DD") and a HH:MM:SS
// boundary into epoch milliseconds, UTC. Seconds are multiplied by 1000 and
// truncated, never rounded.
func ToEpochMillis(date string, boundary string) (int64, error) {
	t, err := time.ParseInLocation(dateTimeLayout, date+" "+boundary, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q %q: %w", date, boundary, err)
	}
	return t.Unix() * 1000, nil
}

// DateEpochMillis is ToEpochMillis for a time.Time date value.
func DateEpochMillis(date time.Time, boundary string) (int64, error) {
	return ToEpochMillis(date.Format("2006-01-02"), boundary)
}

// HoursBetween returns the whole hours elapsed from earlierMs to laterMs,
// both epoch milliseconds. Whole days contribute 24 hours each and the
// remainder seconds are integer-divided by 3600, so partial hours truncate.
// A negative span yields a negative result; callers ordering-sensitive
// comparisons must check the sign.
func HoursBetween(laterMs, earlierMs int64) int64 {
	diffSecs := (laterMs - earlierMs) / 1000
	days := diffSecs / 86400
	rem := diffSecs % 86400
	return days*24 + rem/3600
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
