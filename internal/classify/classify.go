// Package classify derives the early/on-time/late outcome of a completed
// task or stage from its completion and due instants.
package classify

import "time"

const (
	Early      = "early"
	OnTime     = "on_time"
	Late       = "late"
	InProgress = "in_progress"
)

// Outcome is a completion classification plus the delay magnitude.
type Outcome struct {
	Label      string
	DelayHours float64
}

// Classify compares a completion instant against a due instant. A nil due
// instant means the task never properly started and stays in_progress.
// Completions in the same clock minute as the due instant are on time.
func Classify(completedAt time.Time, dueAt *time.Time) Outcome {
	if dueAt == nil {
		return Outcome{Label: InProgress}
	}
	due := *dueAt
	if completedAt.Before(due) {
		return Outcome{Label: Early}
	}
	if completedAt.Truncate(time.Minute).Equal(due.Truncate(time.Minute)) {
		return Outcome{Label: OnTime}
	}
	return Outcome{Label: Late, DelayHours: completedAt.Sub(due).Hours()}
}
