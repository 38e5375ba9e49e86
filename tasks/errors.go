package tasks

import "errors"

// Namespace prefixes every sentinel error this package defines.
const Namespace = "tasks"

var (
	// ErrInvalidOptions is returned when Subscribe options fail
	// validation.
	ErrInvalidOptions = errors.New(Namespace + ": invalid subscription options")

	// ErrNoSubscription names the case of a task published under a
	// routing key with no subscription. Publish does not return it: such
	// a task is recorded as Pending and no handler runs it.
	ErrNoSubscription = errors.New(Namespace + ": no subscription registered for task type")

	// ErrUnknownTask names a TaskId the store has no record of (never
	// published, or already garbage collected). No function of this
	// package returns it; GetTaskState reports an unknown TaskId through
	// its bool result.
	ErrUnknownTask = errors.New(Namespace + ": unknown task id")
)

// ErrPayloadTypeMismatch mirrors events.ErrPayloadTypeMismatch: logged
// and dropped, never returned to a publisher (spec.md §4.F "Type
// adaptation").
var ErrPayloadTypeMismatch = errors.New(Namespace + ": payload type does not match subscription's declared type")
