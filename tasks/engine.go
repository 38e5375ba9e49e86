// Package tasks implements the background task engine (spec.md §4.F,
// §4.G, §4.H): a task-type-keyed queue with a bounded worker pool,
// retries with delay, per-task state tracking delegated to
// tasks/state, and a time-based smooth progress reporter.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zonit/eventmessage/clock"
	"github.com/zonit/eventmessage/metrics"
	"github.com/zonit/eventmessage/tasks/state"
)

// Engine is the task-name → subscriptions router (spec.md §4.G).
type Engine struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription

	store   *state.Store
	clk     clock.Clock
	logger  zerolog.Logger
	instr   *instrumentation
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New returns an unstarted Engine backed by its own task state Store.
func New(clk clock.Clock, logger zerolog.Logger, mp metrics.Provider, storeOpt state.Options) *Engine {
	return &Engine{
		subs:   make(map[string][]*Subscription),
		store:  state.New(clk, logger, storeOpt),
		clk:    clk,
		logger: logger.With().Str("component", "tasks").Logger(),
		instr:  newInstrumentation(mp),
	}
}

// Store exposes the underlying task state store for OnChange/
// GetActiveTasks/GetTaskState callers.
func (e *Engine) Store() *state.Store { return e.store }

// Start launches every registered subscription's workers and the state
// store's retention sweep. ctx governs the lifetime of every handler
// invocation.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.store.Start(e.ctx)
	for _, list := range e.subs {
		for _, s := range list {
			s.start(e.ctx)
		}
	}
}

// Close cancels every in-flight task invocation, waits for all
// subscription workers to return, then stops the retention sweep.
//
// Every subscription's done channel is closed before the shared
// context is cancelled: with multiple subscriptions, cancelling first
// would let a later subscription's in-flight attempt observe its
// context cancelled while its own done channel was still open,
// misclassifying shutdown as a retryable failure (spec.md §4.G's
// runTask distinguishes the two via shuttingDown(s.done)).
func (e *Engine) Close() {
	e.mu.Lock()
	var all []*Subscription
	for _, list := range e.subs {
		all = append(all, list...)
	}
	cancel := e.cancel
	e.mu.Unlock()

	for _, s := range all {
		s.signalStop()
	}
	if cancel != nil {
		cancel()
	}
	for _, s := range all {
		s.awaitStop()
	}
	e.store.Close()
}

func (e *Engine) addSubscription(s *Subscription) {
	e.mu.Lock()
	e.subs[s.key] = append(e.subs[s.key], s)
	started, ctx := e.started, e.ctx
	e.mu.Unlock()

	if started {
		s.start(ctx)
	}
}

// Subscribe registers a typed handler for T, routed by T's fully
// qualified type name (spec.md §4.F "Subscribe<T>(handler, options)").
func Subscribe[T any](e *Engine, handler Handler[T], opts ...Option) (*Subscription, error) {
	return SubscribeKey[T](e, typeKeyOf[T](), handler, opts...)
}

// SubscribeKey registers a typed handler under an explicit routing key.
func SubscribeKey[T any](e *Engine, key string, handler Handler[T], opts ...Option) (*Subscription, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	instr := e.instr
	logger := e.logger
	invoke := func(ctx context.Context, item taskItem, progress *ProgressContext) error {
		typed, ok := item.data.(T)
		if !ok {
			instr.observeDropped()
			logger.Warn().Str("key", key).Msgf("%v", ErrPayloadTypeMismatch)
			return nil
		}
		return handler(ctx, Payload[T]{
			Data:        typed,
			TaskID:      item.taskID,
			ExtensionID: item.extensionID,
			Progress:    progress,
		})
	}

	s := newSubscription(uuid.NewString(), key, o, invoke, e.store, e.clk, e.logger, e.instr)
	e.addSubscription(s)
	return s, nil
}

// Publish creates a fresh TaskId, registers a Pending TaskState, and
// enqueues t onto the subscription(s) for T's type key (spec.md §4.F
// "Publish<T>(t, extensionId?)"). extensionID may be empty.
func Publish[T any](e *Engine, t T, extensionID string) string {
	return e.publish(typeKeyOf[T](), t, extensionID)
}

// PublishKey is Publish with an explicit routing key instead of T's
// type name.
func PublishKey(e *Engine, key string, payload any, extensionID string) string {
	return e.publish(key, payload, extensionID)
}

func (e *Engine) publish(key string, payload any, extensionID string) string {
	taskID := uuid.NewString()
	e.instr.observePublished()
	e.store.Create(taskID, key, extensionID, payload)

	e.mu.RLock()
	subs := e.subs[key]
	e.mu.RUnlock()

	for _, s := range subs {
		s.enqueue(taskItem{taskID: taskID, extensionID: extensionID, data: payload})
	}
	return taskID
}

// GetActiveTasks returns a snapshot of Pending or Processing states,
// optionally filtered by extensionID.
func (e *Engine) GetActiveTasks(extensionID string) []state.TaskState {
	return e.store.GetActiveTasks(extensionID)
}

// GetTaskState returns the current snapshot for taskID, if present.
func (e *Engine) GetTaskState(taskID string) (state.TaskState, bool) {
	return e.store.GetTaskState(taskID)
}

// Unsubscribe stops and removes a subscription.
func (e *Engine) Unsubscribe(s *Subscription) error {
	e.mu.Lock()
	list, ok := e.subs[s.key]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%s: unknown subscription %s", Namespace, s.id)
	}
	filtered := list[:0]
	found := false
	for _, cand := range list {
		if cand.id == s.id {
			found = true
			continue
		}
		filtered = append(filtered, cand)
	}
	e.subs[s.key] = filtered
	e.mu.Unlock()

	if !found {
		return fmt.Errorf("%s: unknown subscription %s", Namespace, s.id)
	}
	s.stop()
	return nil
}
