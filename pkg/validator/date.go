package validator

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the calendar date format accepted by the API
const DateLayout = "2006-01-02"

// ErrInvalidDate indicates the value is neither YYYY-MM-DD nor RFC3339
var ErrInvalidDate = errors.New("date must be in YYYY-MM-DD format")

// ParseDate parses YYYY-MM-DD first, then RFC3339, and truncates to the day in UTC
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrInvalidDate
	}

	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, ErrInvalidDate
}

// ParseDateOr parses value and falls back to the day of now when it is
// missing or malformed. The second return reports whether the fallback was used.
func ParseDateOr(value string, now time.Time) (time.Time, bool) {
	t, err := ParseDate(value)
	if err != nil {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return t, false
}
