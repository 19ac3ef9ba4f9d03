package syncjob

import (
	"fmt"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// Window is a daily launch window such as "02:00-06:00" in a fixed
// location. A window whose end is before its start wraps midnight; equal
// bounds mean the window is always open.
type Window struct {
	start int
	end   int
	loc   *time.Location
}

// ParseWindow parses "HH:MM-HH:MM" in the IANA timezone tz.
func ParseWindow(spec, tz string) (Window, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Window{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	from, to, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return Window{}, fmt.Errorf("launch window %q: expected HH:MM-HH:MM", spec)
	}

	start, err := parseClock(from)
	if err != nil {
		return Window{}, fmt.Errorf("launch window %q: %w", spec, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return Window{}, fmt.Errorf("launch window %q: %w", spec, err)
	}

	return Window{start: start, end: end, loc: loc}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.start == w.end {
		return true
	}
	m := minuteOfDay(t.In(w.loc))
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	return m >= w.start || m < w.end
}

// OpenedAt returns when the window occurrence containing t opened. It is
// only meaningful when Contains(t) is true.
func (w Window) OpenedAt(t time.Time) time.Time {
	local := t.In(w.loc)
	y, mo, d := local.Date()
	opened := time.Date(y, mo, d, w.start/60, w.start%60, 0, 0, w.loc)
	if opened.After(local) {
		opened = opened.AddDate(0, 0, -1)
	}
	return opened
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s", w.start/60, w.start%60, w.end/60, w.end%60, w.loc)
}

func minuteOfDay(t time.Time) int {
	return (t.Hour()*60 + t.Minute()) % minutesPerDay
}
