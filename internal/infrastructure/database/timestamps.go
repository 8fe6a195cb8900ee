package database

import (
	"fmt"
	"time"
)

// TimeLayout is the storage format for every timestamp column.
//
// It is fixed-width UTC with millisecond precision, so lexical ordering of the
// TEXT column matches chronological ordering and range filters can compare
// strings directly.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp. RFC 3339 values written by older
// tooling or by hand are accepted as well.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
