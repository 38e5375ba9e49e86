package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonit/eventmessage/clock"
	"github.com/zonit/eventmessage/internal/errtag"
	"github.com/zonit/eventmessage/internal/pool"
	"github.com/zonit/eventmessage/internal/queue"
	"github.com/zonit/eventmessage/metrics"
	"github.com/zonit/eventmessage/tasks/state"
)

// Payload is what a task handler receives: the published value plus
// its task identity and a capability handle for reporting progress
// (spec.md §4.G worker algorithm: "payload{ data, taskId, extensionId,
// progress, ctx }").
type Payload[T any] struct {
	Data        T
	TaskID      string
	ExtensionID string
	Progress    *ProgressContext
}

// Handler is a typed task handler.
type Handler[T any] func(ctx context.Context, p Payload[T]) error

type taskItem struct {
	taskID      string
	extensionID string
	data        any
}

type workerSlot struct {
	index  int64
	logger zerolog.Logger
}

// Subscription drains one task type's queue through a fixed worker
// pool, applying retries, per-invocation timeouts, and progress/state
// reporting (spec.md §4.F/§4.G).
type Subscription struct {
	id  string
	key string
	opt Options

	queue  *queue.Queue[taskItem]
	invoke func(ctx context.Context, item taskItem, progress *ProgressContext) error

	slots  pool.Pool
	slotID atomic.Int64

	store  *state.Store
	clk    clock.Clock
	logger zerolog.Logger
	instr  *instrumentation

	baseCtx context.Context
	done    chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

func newSubscription(id, key string, opt Options, invoke func(ctx context.Context, item taskItem, progress *ProgressContext) error,
	store *state.Store, clk clock.Clock, logger zerolog.Logger, instr *instrumentation) *Subscription {

	s := &Subscription{
		id:     id,
		key:    key,
		opt:    opt,
		queue:  queue.New[taskItem](),
		invoke: invoke,
		store:  store,
		clk:    clk,
		logger: logger.With().Str("subscription_id", id).Str("task_type", key).Logger(),
		instr:  instr,
		done:   make(chan struct{}),
	}
	s.slots = pool.NewFixed(opt.WorkerCount, func() interface{} {
		idx := s.slotID.Add(1) - 1
		return &workerSlot{index: idx, logger: s.logger.With().Int64("worker", idx).Logger()}
	})
	return s
}

func (s *Subscription) start(ctx context.Context) {
	s.baseCtx = ctx
	for i := uint(0); i < s.opt.WorkerCount; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
}

func (s *Subscription) enqueue(item taskItem) { s.queue.Push(item) }

// signalStop closes this subscription's done channel and its intake
// queue without waiting for its workers to exit. Engine.Close calls
// this for every subscription before cancelling the shared context, so
// shuttingDown(s.done) already observes shutdown by the time a worker's
// in-flight invocation sees its context cancelled — otherwise a
// cancellation raised by context cancellation arriving first would be
// misclassified as a retryable failure instead of the shutdown path
// (spec.md §4.G, §5 "On shutdown, the engines close subscription queue
// writers").
func (s *Subscription) signalStop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.queue.Close()
}

// awaitStop waits for every worker goroutine started by start to
// return. Call only after signalStop.
func (s *Subscription) awaitStop() {
	s.wg.Wait()
}

// stop is signalStop followed immediately by awaitStop, for callers
// (Unsubscribe) that tear down a single subscription outside of a
// whole-engine shutdown and so have no shared-context race to avoid.
func (s *Subscription) stop() {
	s.signalStop()
	s.awaitStop()
}

func (s *Subscription) runWorker() {
	defer s.wg.Done()

	slot, _ := s.slots.Get().(*workerSlot)
	defer s.slots.Put(slot)

	for {
		item, ok := s.queue.Pop(s.done)
		if !ok {
			return
		}
		if stop := s.runTask(slot, item); stop {
			return
		}
	}
}

// runTask implements spec.md §4.G's per-task worker algorithm. It
// returns true when this worker should stop consuming further tasks.
func (s *Subscription) runTask(slot *workerSlot, item taskItem) (stop bool) {
	totalSteps := totalStepsPtr(s.opt.ProgressSteps)
	s.store.StartTask(item.taskID, totalSteps)

	var attempt uint

	for {
		progress := acquireProgressContext(s.opt.ProgressSteps, s.clk, func(pct int, step *int, msg string) {
			s.store.UpdateProgress(item.taskID, pct, step, &msg)
		})

		ctx, cancel := context.WithTimeout(s.baseCtx, s.opt.Timeout)
		start := s.clk.Now()
		err := func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("%s: handler panicked: %v", Namespace, p)
				}
			}()
			return s.invoke(ctx, item, progress)
		}()
		dur := s.clk.Now().Sub(start)
		cancel()

		progress.Dispose()
		releaseProgressContext(progress)

		s.instr.observeAttempt(dur, err)

		if err == nil {
			s.store.CompleteTask(item.taskID)
			return false
		}

		if shuttingDown(s.done) && errors.Is(err, context.Canceled) {
			slot.logger.Warn().Str("task_id", item.taskID).Msg("task cancelled by shutdown")
			s.store.CancelTask(item.taskID)
			return true
		}

		tagged := errtag.Tag(err, s.id, item.taskID)

		attempt++
		if attempt <= s.opt.MaxRetries {
			slot.logger.Warn().Err(tagged).Uint("attempt", attempt).Msg("task attempt failed, retrying")
			s.store.ResetForRetry(item.taskID)
			if !sleepOrShutdown(s.clk, s.opt.RetryDelay, s.done) {
				s.store.CancelTask(item.taskID)
				return true
			}
			continue
		}

		slot.logger.Error().Err(tagged).Msg("task failed, retries exhausted")
		s.store.FailTask(item.taskID)
		if !s.opt.ContinueOnError {
			return true
		}
		return false
	}
}

func totalStepsPtr(steps []ProgressStep) *int {
	if len(steps) == 0 {
		return nil
	}
	n := len(steps)
	return &n
}

func shuttingDown(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// sleepOrShutdown waits for d, honouring shutdown (spec.md §4.G
// "sleep(options.retryDelay, honouring shutdown)"). It returns false if
// shutdown fired first.
func sleepOrShutdown(clk clock.Clock, d time.Duration, done <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	select {
	case <-clk.After(d):
		return true
	case <-done:
		return false
	}
}

type instrumentation struct {
	published metrics.Counter
	dropped   metrics.Counter
	attempts  metrics.Histogram
	failed    metrics.Counter
}

func newInstrumentation(p metrics.Provider) *instrumentation {
	return &instrumentation{
		published: p.Counter("tasks_published_total", metrics.WithDescription("tasks published to the engine")),
		dropped:   p.Counter("tasks_dropped_total", metrics.WithDescription("tasks dropped for payload type mismatch")),
		attempts:  p.Histogram("tasks_attempt_duration_seconds", metrics.WithDescription("task handler attempt duration")),
		failed:    p.Counter("tasks_failed_total", metrics.WithDescription("task attempts that returned an error")),
	}
}

func (i *instrumentation) observePublished() { i.published.Add(1) }

func (i *instrumentation) observeDropped() { i.dropped.Add(1) }

func (i *instrumentation) observeAttempt(d time.Duration, err error) {
	i.attempts.Record(d.Seconds())
	if err != nil {
		i.failed.Add(1)
	}
}
