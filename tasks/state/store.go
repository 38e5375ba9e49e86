package state

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonit/eventmessage/clock"
)

// DefaultRetention and DefaultGCInterval match spec.md §4.I's defaults:
// terminal entries older than thirty minutes are swept every five
// minutes.
const (
	DefaultRetention  = 30 * time.Minute
	DefaultGCInterval = 5 * time.Minute
)

// Options configures a Store's retention sweep.
type Options struct {
	Retention  time.Duration
	GCInterval time.Duration
}

func DefaultOptions() Options {
	return Options{Retention: DefaultRetention, GCInterval: DefaultGCInterval}
}

type entry struct {
	mu    sync.Mutex
	state TaskState
}

// Store is the TaskId → TaskState registry plus its four observer
// registries (spec.md §4.I).
type Store struct {
	clk    clock.Clock
	logger zerolog.Logger
	opt    Options

	statesMu sync.RWMutex
	states   map[string]*entry

	global      *registry
	byExtension *registrySet
	byType      *registrySet
	byTypeExt   *registrySet

	cancelGC context.CancelFunc
	gcDone   chan struct{}
}

// New returns a Store. Call Start to launch its retention sweep.
func New(clk clock.Clock, logger zerolog.Logger, opt Options) *Store {
	if opt.Retention <= 0 {
		opt.Retention = DefaultRetention
	}
	if opt.GCInterval <= 0 {
		opt.GCInterval = DefaultGCInterval
	}
	return &Store{
		clk:         clk,
		logger:      logger.With().Str("component", "tasks.state").Logger(),
		opt:         opt,
		states:      make(map[string]*entry),
		global:      newRegistry(),
		byExtension: newRegistrySet(),
		byType:      newRegistrySet(),
		byTypeExt:   newRegistrySet(),
	}
}

// Start launches the background retention sweep. Calling Start twice
// or calling it after Close is a no-op.
func (s *Store) Start(ctx context.Context) {
	if s.cancelGC != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelGC = cancel
	s.gcDone = make(chan struct{})
	go s.runGC(ctx)
}

// Close stops the retention sweep and waits for it to exit.
func (s *Store) Close() {
	if s.cancelGC == nil {
		return
	}
	s.cancelGC()
	<-s.gcDone
}

func compositeKey(taskType, extensionID string) string {
	return taskType + "|" + extensionID
}

// collectObservers gathers the observer functions relevant to snap's
// TaskType and ExtensionID (global and by-type always; by-extension and
// by-type-extension when ExtensionID is non-empty). It does not take the
// entry's lock itself; mutateAndNotify calls it while holding that lock.
func (s *Store) collectObservers(snap TaskState) []observerFunc {
	out := s.global.snapshot()
	if r, ok := s.byType.get(snap.TaskType); ok {
		out = append(out, r.snapshot()...)
	}
	if snap.ExtensionID != "" {
		if r, ok := s.byExtension.get(snap.ExtensionID); ok {
			out = append(out, r.snapshot()...)
		}
		if r, ok := s.byTypeExt.get(compositeKey(snap.TaskType, snap.ExtensionID)); ok {
			out = append(out, r.snapshot()...)
		}
	}
	return out
}

// mutateAndNotify runs mutate under e's lock, then — if mutate reports a
// change — notifies every relevant observer while still holding that
// lock. Holding the lock across notification is what gives "notifications
// are dispatched in the order of the mutations that produced them" for a
// single TaskId (spec.md §4.I); observer callbacks therefore must not
// call back into the store for the same task.
func (e *entry) mutateAndNotify(s *Store, mutate func(*TaskState) bool) TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := mutate(&e.state)
	snap := e.state
	if changed {
		for _, fn := range s.collectObservers(snap) {
			safeNotify(fn, snap)
		}
	}
	return snap
}

// Create registers a fresh TaskState{Pending, ...} for taskID and
// notifies every matching registry (spec.md §4.I "Create").
func (s *Store) Create(taskID, taskType, extensionID string, taskData any) TaskState {
	now := s.clk.Now()
	e := &entry{state: TaskState{
		TaskID:      taskID,
		ExtensionID: extensionID,
		TaskType:    taskType,
		Status:      Pending,
		CreatedAt:   now,
		TaskData:    taskData,
	}}

	s.statesMu.Lock()
	s.states[taskID] = e
	s.statesMu.Unlock()

	return e.mutateAndNotify(s, func(*TaskState) bool { return true })
}

func (s *Store) lookup(taskID string) (*entry, bool) {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	e, ok := s.states[taskID]
	return e, ok
}

// StartTask transitions taskID to Processing, stamps StartedAt, and, if
// the subscription has a progress plan, records its step count so a
// Completed task's CurrentStep can be set equal to TotalSteps even when
// it succeeds on the first attempt (totalSteps is nil for subscriptions
// with no plan and stays nil across retries; spec.md §8's "CurrentStep
// = TotalSteps" invariant needs TotalSteps populated from the first
// attempt, not only via ResetForRetry).
func (s *Store) StartTask(taskID string, totalSteps *int) (TaskState, bool) {
	e, ok := s.lookup(taskID)
	if !ok {
		return TaskState{}, false
	}
	now := s.clk.Now()
	snap := e.mutateAndNotify(s, func(st *TaskState) bool {
		st.Status = Processing
		st.StartedAt = timePtr(now)
		st.TotalSteps = totalSteps
		return true
	})
	return snap, true
}

// CompleteTask transitions taskID to Completed with Progress = 100 and,
// if the task had a progress plan (TotalSteps set by StartTask),
// CurrentStep == TotalSteps (spec.md §8: "the final reported Progress =
// 100 and CurrentStep = TotalSteps").
func (s *Store) CompleteTask(taskID string) (TaskState, bool) {
	e, ok := s.lookup(taskID)
	if !ok {
		return TaskState{}, false
	}
	now := s.clk.Now()
	snap := e.mutateAndNotify(s, func(st *TaskState) bool {
		st.Status = Completed
		st.Progress = intPtr(100)
		st.CompletedAt = timePtr(now)
		if st.TotalSteps != nil {
			st.CurrentStep = st.TotalSteps
		}
		return true
	})
	return snap, true
}

// FailTask transitions taskID to Failed.
func (s *Store) FailTask(taskID string) (TaskState, bool) {
	e, ok := s.lookup(taskID)
	if !ok {
		return TaskState{}, false
	}
	now := s.clk.Now()
	snap := e.mutateAndNotify(s, func(st *TaskState) bool {
		st.Status = Failed
		st.CompletedAt = timePtr(now)
		return true
	})
	return snap, true
}

// CancelTask transitions taskID to Cancelled.
func (s *Store) CancelTask(taskID string) (TaskState, bool) {
	e, ok := s.lookup(taskID)
	if !ok {
		return TaskState{}, false
	}
	now := s.clk.Now()
	snap := e.mutateAndNotify(s, func(st *TaskState) bool {
		st.Status = Cancelled
		st.CompletedAt = timePtr(now)
		return true
	})
	return snap, true
}

// ResetForRetry reverts a task's Progress/CurrentStep/Message to the
// start of a fresh attempt without changing Status away from
// Processing or touching TotalSteps, which StartTask already populated
// for the life of the task (spec.md §4.G: "observers see a short
// regression of progress back to 0 on each retry"). It always
// notifies.
func (s *Store) ResetForRetry(taskID string) (TaskState, bool) {
	e, ok := s.lookup(taskID)
	if !ok {
		return TaskState{}, false
	}
	snap := e.mutateAndNotify(s, func(st *TaskState) bool {
		if st.TotalSteps != nil {
			st.Progress = intPtr(0)
			st.CurrentStep = intPtr(0)
		} else {
			st.Progress = nil
			st.CurrentStep = nil
		}
		st.Message = ""
		return true
	})
	return snap, true
}

// UpdateProgress mutates percent/step/message in place, notifying only
// if the triple actually changed (spec.md §4.I "Update").
func (s *Store) UpdateProgress(taskID string, percent int, step *int, message *string) (TaskState, bool) {
	e, ok := s.lookup(taskID)
	if !ok {
		return TaskState{}, false
	}
	snap := e.mutateAndNotify(s, func(st *TaskState) bool {
		changed := false
		if st.Progress == nil || *st.Progress != percent {
			st.Progress = intPtr(percent)
			changed = true
		}
		if step != nil && (st.CurrentStep == nil || *st.CurrentStep != *step) {
			st.CurrentStep = intPtr(*step)
			changed = true
		}
		if message != nil && st.Message != *message {
			st.Message = *message
			changed = true
		}
		return changed
	})
	return snap, true
}

// GetTaskState returns the current snapshot for taskID, if present.
func (s *Store) GetTaskState(taskID string) (TaskState, bool) {
	e, ok := s.lookup(taskID)
	if !ok {
		return TaskState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// GetActiveTasks returns a snapshot of Pending or Processing states,
// optionally filtered to one ExtensionID. GetActiveTasks never returns
// a state in {Completed, Failed, Cancelled} (spec.md §8).
func (s *Store) GetActiveTasks(extensionID string) []TaskState {
	s.statesMu.RLock()
	entries := make([]*entry, 0, len(s.states))
	for _, e := range s.states {
		entries = append(entries, e)
	}
	s.statesMu.RUnlock()

	out := make([]TaskState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := e.state
		e.mu.Unlock()
		if st.Status != Pending && st.Status != Processing {
			continue
		}
		if extensionID != "" && st.ExtensionID != extensionID {
			continue
		}
		out = append(out, st)
	}
	return out
}
