package calendar

import (
	"errors"
	"testing"
	"time"
)

func businessWeek(t *testing.T) (Window, Weekdays) {
	t.Helper()
	w, err := ParseWindow("09:00", "17:00")
	if err != nil {
		t.Fatalf("parse window: %v", err)
	}
	days, err := ParseWeekdays([]string{"monday", "tuesday", "wednesday", "thursday", "friday"})
	if err != nil {
		t.Fatalf("parse weekdays: %v", err)
	}
	return w, days
}

func instant(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestDueInstantSameDay(t *testing.T) {
	w, days := businessWeek(t)
	// Monday 2024-01-08 09:00 + 8h = Monday 17:00
	due, err := DueInstant(instant(2024, 1, 8, 9, 0), 8, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 8, 17, 0); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestDueInstantSpansDays(t *testing.T) {
	w, days := businessWeek(t)
	due, err := DueInstant(instant(2024, 1, 8, 9, 0), 16, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 9, 17, 0); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestDueInstantSkipsWeekend(t *testing.T) {
	w, days := businessWeek(t)
	// Friday 2024-01-12 16:00 + 2h: one hour Friday, one hour Monday.
	due, err := DueInstant(instant(2024, 1, 12, 16, 0), 2, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 15, 10, 0); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestDueInstantCarryOverBoundary(t *testing.T) {
	w, days := businessWeek(t)
	// Friday 16:00 + exactly 1h lands on end of window.
	due, err := DueInstant(instant(2024, 1, 12, 16, 0), 1, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 12, 17, 0); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestDueInstantFractionalHours(t *testing.T) {
	w, days := businessWeek(t)
	due, err := DueInstant(instant(2024, 1, 8, 9, 0), 1.5, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 8, 10, 30); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestDueInstantZeroHoursClampsForward(t *testing.T) {
	w, days := businessWeek(t)
	// Saturday 12:00 with zero hours lands on Monday 09:00.
	due, err := DueInstant(instant(2024, 1, 13, 12, 0), 0, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 15, 9, 0); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
	// Inside the window, zero hours is the start instant itself.
	due, err = DueInstant(instant(2024, 1, 8, 11, 0), 0, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 8, 11, 0); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestDueInstantStartBeforeWindow(t *testing.T) {
	w, days := businessWeek(t)
	due, err := DueInstant(instant(2024, 1, 8, 6, 0), 2, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 8, 11, 0); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestDueInstantStartAfterWindow(t *testing.T) {
	w, days := businessWeek(t)
	due, err := DueInstant(instant(2024, 1, 8, 18, 0), 1, w, days)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if want := instant(2024, 1, 9, 10, 0); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
}

func TestDueInstantEmptyWorkingDays(t *testing.T) {
	w, _ := businessWeek(t)
	_, err := DueInstant(instant(2024, 1, 8, 9, 0), 1, w, Weekdays{})
	var cfgErr ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestParseWindowRejectsInverted(t *testing.T) {
	if _, err := ParseWindow("17:00", "09:00"); err == nil {
		t.Fatalf("expected inverted window error")
	}
	if _, err := ParseWindow("25:00", "17:00"); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"Monday", " friday "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !days[time.Monday] || !days[time.Friday] || days[time.Sunday] {
		t.Fatalf("unexpected set: %v", days)
	}
	if _, err := ParseWeekdays([]string{"blursday"}); err == nil {
		t.Fatalf("expected unknown day error")
	}
	if _, err := ParseWeekdays(nil); err == nil {
		t.Fatalf("expected empty set error")
	}
}
