// Package schedule parses start times for order-ahead runs and waits for
// them.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orderbot/internal/settle"
)

// ParseStartTime parses user-friendly time formats into time.Time
// Supports the following formats (all assumed to be UTC):
//   - "2025-01-15 16:00"          (YYYY-MM-DD HH:MM)
//   - "2025-01-15T16:00:00Z"      (RFC3339)
//   - "2025-01-15 16:00 UTC"      (YYYY-MM-DD HH:MM UTC)
//   - "2025-01-15 16:00:00"       (YYYY-MM-DD HH:MM:SS)
func ParseStartTime(timeStr string) (time.Time, error) {
	timeStr = strings.TrimSpace(timeStr)
	timeStr = strings.TrimSuffix(timeStr, "UTC")
	timeStr = strings.TrimSpace(timeStr)

	if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
		return t, nil
	}

	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, timeStr, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time format '%s'. Use format: YYYY-MM-DD HH:MM (e.g., 2025-01-15 16:00). Time is assumed to be UTC", timeStr)
}

// DefaultUpdateEvery is how often WaitUntil reports progress.
const DefaultUpdateEvery = 30 * time.Second

// WaitUntil blocks until target on clock, calling progress with the
// remaining time every updateEvery. It returns early with ctx's error.
func WaitUntil(ctx context.Context, clock settle.Clock, target time.Time, updateEvery time.Duration, progress func(remaining time.Duration)) error {
	if clock == nil {
		clock = settle.RealClock
	}
	if updateEvery <= 0 {
		updateEvery = DefaultUpdateEvery
	}

	for {
		remaining := target.Sub(clock.Now())
		if remaining <= 0 {
			return nil
		}

		// Less than one update left: sleep the remainder.
		step := updateEvery
		last := remaining < updateEvery
		if last {
			step = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(step):
		}
		if last {
			return nil
		}

		if remaining = target.Sub(clock.Now()); remaining > 0 && progress != nil {
			progress(remaining.Round(time.Second))
		}
	}
}
