// Package calendar computes working-hours due instants and elapsed effort
// against a per-space working calendar. All functions are pure.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// ConfigError reports an unusable working calendar.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("calendar misconfigured: %s", e.Reason)
}

// Window is a daily working-hours window, minutes since midnight.
type Window struct {
	StartMinute int
	EndMinute   int
}

// ParseWindow parses "HH:MM" day bounds into a Window.
func ParseWindow(dayStart, dayEnd string) (Window, error) {
	start, err := parseClock(dayStart)
	if err != nil {
		return Window{}, ConfigError{Reason: fmt.Sprintf("day_start %q: %v", dayStart, err)}
	}
	end, err := parseClock(dayEnd)
	if err != nil {
		return Window{}, ConfigError{Reason: fmt.Sprintf("day_end %q: %v", dayEnd, err)}
	}
	w := Window{StartMinute: start, EndMinute: end}
	if err := w.validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return h*60 + m, nil
}

func (w Window) validate() error {
	if w.EndMinute <= w.StartMinute {
		return ConfigError{Reason: "day_end must be after day_start"}
	}
	return nil
}

// Hours returns the window length in hours.
func (w Window) Hours() float64 {
	return float64(w.EndMinute-w.StartMinute) / 60
}

// Weekdays is the set of working days.
type Weekdays map[time.Weekday]bool

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekdays converts lowercase day names into a Weekdays set.
func ParseWeekdays(names []string) (Weekdays, error) {
	days := Weekdays{}
	for _, n := range names {
		d, ok := dayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, ConfigError{Reason: fmt.Sprintf("unknown working day %q", n)}
		}
		days[d] = true
	}
	if len(days) == 0 {
		return nil, ConfigError{Reason: "working_days is empty"}
	}
	return days, nil
}

// Names returns the set as sorted lowercase day names, Sunday first.
func (w Weekdays) Names() []string {
	var out []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w[d] {
			out = append(out, strings.ToLower(d.String()))
		}
	}
	return out
}

// DueInstant walks forward from start consuming estimatedHours of working
// time inside the window on working days only. Fractional hours are allowed.
// Zero hours returns start clamped into the next working window.
func DueInstant(start time.Time, estimatedHours float64, window Window, days Weekdays) (time.Time, error) {
	if len(days) == 0 {
		return time.Time{}, ConfigError{Reason: "working_days is empty"}
	}
	if err := window.validate(); err != nil {
		return time.Time{}, err
	}
	if estimatedHours < 0 {
		return time.Time{}, ConfigError{Reason: "estimated hours must be non-negative"}
	}

	remaining := time.Duration(estimatedHours * float64(time.Hour))
	cursor := start

	// The loop advances at least one day whenever it cannot consume time,
	// and consumes a full window's worth otherwise, so it terminates for
	// any valid window.
	for {
		if !days[cursor.Weekday()] {
			cursor = nextDayStart(cursor, window)
			continue
		}
		dayStart := atMinute(cursor, window.StartMinute)
		dayEnd := atMinute(cursor, window.EndMinute)
		if cursor.Before(dayStart) {
			cursor = dayStart
		}
		if !cursor.Before(dayEnd) {
			cursor = nextDayStart(cursor, window)
			continue
		}
		if remaining == 0 {
			return cursor, nil
		}
		available := dayEnd.Sub(cursor)
		if remaining <= available {
			return cursor.Add(remaining), nil
		}
		remaining -= available
		cursor = nextDayStart(cursor, window)
	}
}

func nextDayStart(t time.Time, window Window) time.Time {
	next := t.AddDate(0, 0, 1)
	return atMinute(next, window.StartMinute)
}

func atMinute(t time.Time, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), minute/60, minute%60, 0, 0, t.Location())
}

// ElapsedHours is wall-clock hours between two instants.
func ElapsedHours(from, to time.Time) float64 {
	return to.Sub(from).Hours()
}
