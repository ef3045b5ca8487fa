package webhook

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Accepted clock skew between the provider's claimed timestamp and now
const (
	MaxPastSkew   = 5 * time.Minute
	MaxFutureSkew = time.Minute
)

// IsReplayAttack reports whether claimed is more than MaxPastSkew in the past
// or more than MaxFutureSkew in the future. The bounds themselves are accepted.
func IsReplayAttack(claimed, now time.Time) bool {
	age := now.Sub(claimed)
	return age > MaxPastSkew || -age > MaxFutureSkew
}

// ParseTimestamp accepts unix seconds, unix milliseconds or RFC3339.
// An empty value yields the zero time.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse webhook timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}
