package pool

import "sync"

// NewDynamic wraps sync.Pool: it never blocks Get, creating a new slot
// whenever none is idle, and lets the runtime reclaim idle slots under
// memory pressure. Used where concurrency does not need a hard cap —
// the task engine's ProgressContext allocator (see tasks/progress.go)
// recycles its per-attempt state this way instead of allocating fresh
// on every retry.
func NewDynamic(newFn func() interface{}) Pool {
	return &sync.Pool{New: newFn}
}
