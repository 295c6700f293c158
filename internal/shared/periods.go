package shared

import (
	"errors"
	"time"
)

// ErrInvalidPeriod indicates a fiscal period code that is not YYYY-MM.
var ErrInvalidPeriod = errors.New("invalid fiscal period code")

// ParsePeriod validates a YYYY-MM period code and returns the first day of
// the month in UTC.
func ParsePeriod(code string) (time.Time, error) {
	t, err := time.Parse("2006-01", code)
	if err != nil {
		return time.Time{}, ErrInvalidPeriod
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}

// PeriodEnd returns the last instant of the period's month in UTC.
func PeriodEnd(code string) (time.Time, error) {
	start, err := ParsePeriod(code)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 1, 0).Add(-time.Second), nil
}
