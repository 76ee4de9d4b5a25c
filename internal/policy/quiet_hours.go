package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietHours is a daily local-time window during which outbound sends are
// deferred. Windows may wrap midnight ("20:00-07:00").
type QuietHours struct {
	startMinute int // minutes past local midnight
	endMinute   int
	loc         *time.Location
}

// ParseQuietHours parses "HH:MM-HH:MM" against the policy timezone. A start
// equal to the end means no quiet window at all.
func ParseQuietHours(window, timezone string) (QuietHours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return QuietHours{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return QuietHours{}, fmt.Errorf("invalid quiet-hours window %q", window)
	}

	start, err := parseClock(parts[0])
	if err != nil {
		return QuietHours{}, fmt.Errorf("invalid quiet-hours start: %w", err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return QuietHours{}, fmt.Errorf("invalid quiet-hours end: %w", err)
	}

	return QuietHours{startMinute: start, endMinute: end, loc: loc}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether t falls inside the quiet window.
func (q QuietHours) Contains(t time.Time) bool {
	if q.loc == nil || q.startMinute == q.endMinute {
		return false
	}
	local := t.In(q.loc)
	minute := local.Hour()*60 + local.Minute()

	if q.startMinute < q.endMinute {
		return minute >= q.startMinute && minute < q.endMinute
	}
	// Window wraps midnight.
	return minute >= q.startMinute || minute < q.endMinute
}

// NextOpen returns the first instant at or after t when the window is closed.
// If t is already outside quiet hours it returns t unchanged.
func (q QuietHours) NextOpen(t time.Time) time.Time {
	if !q.Contains(t) {
		return t
	}

	local := t.In(q.loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), q.endMinute/60, q.endMinute%60, 0, 0, q.loc)
	if !end.After(local) {
		end = end.Add(24 * time.Hour)
	}
	return end
}
