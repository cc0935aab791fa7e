package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// ParseStartTime parses the --start-at value. Accepted forms, UTC unless the value
// carries an offset:
//   - "2025-01-15 16:00"
//   - "2025-01-15 16:00:00"
//   - "2025-01-15 16:00 UTC"
//   - "2025-01-15T16:00:00Z" (RFC3339)
func ParseStartTime(timeStr string) (time.Time, error) {
	timeStr = strings.TrimSpace(timeStr)
	timeStr = strings.TrimSuffix(timeStr, " UTC")
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

// waitUntil blocks until at, printing a countdown line every minute. Times in the
// past return immediately.
func waitUntil(ctx context.Context, at time.Time, out io.Writer, now func() time.Time) error {
	remaining := at.Sub(now())
	if remaining <= 0 {
		return nil
	}

	fmt.Fprintf(out, T("waiting_for_start")+"\n", at.Format(time.RFC3339), remaining.Round(time.Second))

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
			fmt.Fprintf(out, T("starting_in")+"\n", at.Sub(now()).Round(time.Second))
		}
	}
}
