package stock

import (
	"fmt"
	"time"
)

// =============================================================================
// DATES AND INSTANTS
// =============================================================================

const DateLayout = "2006-01-02"

// Now returns the current instant in UTC at whole-second precision.
// Ledger timestamps are always second-aligned so that an inclusive end bound
// of "end of day minus one second" covers the whole day.
func Now() time.Time {
	return Instant(time.Now())
}

// Instant normalizes t to a UTC, second-aligned ledger timestamp.
func Instant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// StartOfDay returns midnight UTC of the calendar day containing t.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last whole second of the calendar day containing t:
// day + 1 day - 1 second.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Second)
}

// FormatDate renders a calendar date, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// DaysBetween counts calendar days from a to b (b - a), ignoring time of day.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)).Hours() / 24)
}
