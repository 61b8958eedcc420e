package stream

import (
	"errors"
	"strconv"
	"time"
)

// ParseSince validates the ?since= cursor: integer milliseconds between 0 and
// now inclusive. An empty value means 0.
func ParseSince(raw string, now time.Time) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("invalid 'since' (expected integer milliseconds)")
	}
	if since < 0 {
		return 0, errors.New("'since' must be >= 0")
	}
	if since > now.UnixMilli() {
		return 0, errors.New("'since' must not be in the future")
	}
	return since, nil
}

// SourceCursor converts a millisecond cursor to the source's seconds, rounding down.
func SourceCursor(sinceMs int64) int64 {
	seconds := sinceMs / 1000
	if sinceMs%1000 < 0 {
		seconds--
	}
	return seconds
}
