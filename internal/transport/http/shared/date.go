package shared

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ParseDate reads a calendar day. RFC3339 timestamps are accepted and cut down to their
// UTC date; campaign windows never carry a time of day.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		y, m, d := ts.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse(dateLayout, value)
}
