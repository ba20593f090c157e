package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp parses a user-supplied position into whole seconds.
// Accepted forms: "H:MM:SS", "M:SS", Go-style unit strings ("30s", "1m30s"),
// and bare integers which are treated as seconds.
func ParseTimestamp(input string) (int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, fmt.Errorf("empty time value")
	}

	if strings.Contains(s, ":") {
		return parseClockTimestamp(s)
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("time cannot be negative: %s", input)
		}
		return n, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time format %q (expected H:MM:SS, M:SS or 1m30s)", input)
	}
	if d < 0 {
		return 0, fmt.Errorf("time cannot be negative: %s", input)
	}
	return int(d.Seconds()), nil
}

func parseClockTimestamp(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time format %q (expected H:MM:SS or M:SS)", s)
	}

	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time component %q in %q", part, s)
		}
		// Minute and second fields must stay under 60 when a larger unit precedes them
		if i > 0 && n > 59 {
			return 0, fmt.Errorf("time component %q out of range in %q", part, s)
		}
		total = total*60 + n
	}
	return total, nil
}

// FormatDuration renders whole seconds as M:SS or H:MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatTrackLength renders a track length, using a live marker for streams.
func FormatTrackLength(seconds int, live bool) string {
	if live {
		return "live"
	}
	return FormatDuration(seconds)
}
