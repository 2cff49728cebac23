package classify

import (
	"testing"
	"time"
)

func TestClassifyBoundaries(t *testing.T) {
	due := time.Date(2024, 1, 8, 17, 0, 0, 0, time.UTC)

	got := Classify(due, &due)
	if got.Label != OnTime || got.DelayHours != 0 {
		t.Fatalf("exact completion: got %+v", got)
	}

	got = Classify(due.Add(30*time.Second), &due)
	if got.Label != OnTime {
		t.Fatalf("same minute: got %+v", got)
	}

	got = Classify(due.Add(time.Minute), &due)
	if got.Label != Late || got.DelayHours <= 0 {
		t.Fatalf("one minute after: got %+v", got)
	}

	got = Classify(due.Add(-time.Second), &due)
	if got.Label != Early || got.DelayHours != 0 {
		t.Fatalf("strictly before: got %+v", got)
	}
}

func TestClassifyLateDelayHours(t *testing.T) {
	due := time.Date(2024, 1, 8, 17, 0, 0, 0, time.UTC)
	got := Classify(due.Add(90*time.Minute), &due)
	if got.Label != Late {
		t.Fatalf("expected late, got %+v", got)
	}
	if got.DelayHours != 1.5 {
		t.Fatalf("delay = %v, want 1.5", got.DelayHours)
	}
}

func TestClassifyNoDueInstant(t *testing.T) {
	got := Classify(time.Now(), nil)
	if got.Label != InProgress {
		t.Fatalf("expected in_progress, got %+v", got)
	}
}
