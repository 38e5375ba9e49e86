// Package state implements the task state store (spec.md §4.I): the
// TaskId → TaskState registry plus four parallel observer registries
// (global, by ExtensionId, by TaskType, by TaskType+ExtensionId) and the
// periodic retention sweep that garbage-collects terminal entries.
package state

import "time"

// Status is one position in a TaskState's lifecycle (spec.md §3's task
// state machine).
type Status string

const (
	Pending    Status = "Pending"
	Processing Status = "Processing"
	Completed  Status = "Completed"
	Failed     Status = "Failed"
	Cancelled  Status = "Cancelled"
)

// Terminal reports whether s is one of the three statuses a task never
// leaves once entered.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// TaskState is the observable snapshot of a live or recently completed
// task (spec.md §3). Values are copied out of the store on every read
// and notification, so callers may retain them freely.
type TaskState struct {
	TaskID      string
	ExtensionID string
	TaskType    string
	Status      Status

	// Progress is nil until a step plan (or an explicit SetProgress
	// call) has reported a percentage; CompleteTask sets it to 100
	// whether or not the task has a plan.
	Progress *int
	// CurrentStep and TotalSteps are 1-based and nil when the task has
	// no step plan.
	CurrentStep *int
	TotalSteps  *int
	Message     string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// TaskData is the value originally published, used by typed
	// observers (OnChangeType / OnChangeTypeExtension) to down-cast.
	TaskData any
}

// Duration reports (CompletedAt ?? now) − StartedAt, and false if
// StartedAt was never set (spec.md §3).
func (s TaskState) Duration(now time.Time) (time.Duration, bool) {
	if s.StartedAt == nil {
		return 0, false
	}
	end := now
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(*s.StartedAt), true
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
