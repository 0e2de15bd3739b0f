package db

import (
	"time"

	"github.com/teranos/pulsejobs/errors"
)

// TimeLayout is fixed-width UTC so stored timestamps compare lexically in SQL
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for storage
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid stored timestamp %q", s)
	}
	return t, nil
}

// NullTime renders an optional timestamp for storage (nil stays NULL)
func NullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}
