package order

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrInvalidTimestamp is returned by ParseTimestamp for empty or unrecognized input.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// timestampLayouts lists the accepted forms, most common first. Layouts
// without a zone yield UTC. Fractional seconds are accepted by every layout.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTimestamp parses a platform timestamp and normalizes it to UTC.
// Naive values are interpreted as UTC; explicit offsets are honored.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Wrapf(ErrInvalidTimestamp, "parse %q", s)
}
