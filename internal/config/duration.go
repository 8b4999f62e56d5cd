package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DurationOrDefault parses a configured duration, falling back to
// defaultValue when the value is empty. Bare numbers are read as seconds, so
// `LOOPWATCH_STREAM_BACKOFF_CAP=30` and `backoff_cap: "30s"` mean the same
// thing.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	if secs, err := strconv.Atoi(candidate); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("duration %q is negative", candidate)
		}
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", candidate)
	}
	return d, nil
}
