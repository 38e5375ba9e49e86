package events

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
)

// Handler is a typed event handler. E is the event payload type.
type Handler[E any] func(ctx context.Context, event E) error

// Subscription is one registered (key, handler, options) triple. Its
// worker pool is started by Bus.Start and torn down by Bus.Close.
type Subscription struct {
	id  string
	key string
	opt Options

	queue  *queue.Queue[any]
	invoke func(ctx context.Context, payload any) error

	slots  pool.Pool
	slotID atomic.Int64
	seq    atomic.Int64

	clk    clock.Clock
	logger zerolog.Logger
	instr  *instrumentation

	baseCtx context.Context
	done    chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// workerSlot is the per-worker identity handed out once by the fixed
// pool when a subscription's goroutines start, grounded on the
// teacher's dispatcher.go pool.Get()/pool.Put() pairing (ygrebnov/workers),
// repurposed here: each of the opt.WorkerCount goroutines acquires
// exactly one slot for its lifetime instead of one per message.
type workerSlot struct {
	index  int64
	logger zerolog.Logger
}

func newSubscription(id, key string, opt Options, invoke func(ctx context.Context, payload any) error,
	clk clock.Clock, logger zerolog.Logger, instr *instrumentation) *Subscription {

	s := &Subscription{
		id:     id,
		key:    key,
		opt:    opt,
		queue:  queue.New[any](),
		invoke: invoke,
		clk:    clk,
		logger: logger.With().Str("subscription_id", id).Str("key", key).Logger(),
		instr:  instr,
		done:   make(chan struct{}),
	}
	s.slots = pool.NewFixed(opt.WorkerCount, func() interface{} {
		idx := s.slotID.Add(1) - 1
		return &workerSlot{index: idx, logger: s.logger.With().Int64("worker", idx).Logger()}
	})
	return s
}

// start launches this subscription's worker goroutines. ctx is the
// base context all handler invocations derive their per-call timeout
// from; cancelling it cancels every invocation, while the workers keep
// draining the queue until signalStop closes done.
func (s *Subscription) start(ctx context.Context) {
	s.baseCtx = ctx
	for i := uint(0); i < s.opt.WorkerCount; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
}

func (s *Subscription) runWorker() {
	defer s.wg.Done()

	slot, _ := s.slots.Get().(*workerSlot)
	defer s.slots.Put(slot)

	for {
		payload, ok := s.queue.Pop(s.done)
		if !ok {
			return
		}
		if stop := s.handleOne(slot, payload); stop {
			return
		}
	}
}

// handleOne runs one invocation under a per-call timeout derived from
// the subscription's base context, reporting duration and outcome
// through the shared instrumentation. It returns true when the worker
// that ran this invocation should stop consuming further messages
// (ContinueOnError is false and the invocation failed).
func (s *Subscription) handleOne(slot *workerSlot, payload any) (stop bool) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.opt.Timeout)
	defer cancel()

	start := s.clk.Now()
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%s: handler panicked: %v", Namespace, p)
			}
		}()
		return s.invoke(ctx, payload)
	}()
	dur := s.clk.Now().Sub(start)

	s.instr.observeHandled(dur, err)

	if err != nil {
		messageID := fmt.Sprintf("%s#%d", s.key, s.seq.Add(1))
		err = errtag.Tag(err, s.id, messageID)
		if errors.Is(err, context.DeadlineExceeded) {
			slot.logger.Warn().Dur("after", dur).Msg("event handler timed out")
		} else {
			slot.logger.Error().Err(err).Dur("after", dur).Msg("event handler failed")
		}
		if !s.opt.ContinueOnError {
			slot.logger.Warn().Msg("worker stopping after error (continue_on_error=false)")
			return true
		}
	}
	return false
}

// enqueue pushes a payload onto this subscription's unbounded queue.
// Mismatched payload types are filtered by invoke itself so enqueue
// never blocks on type checks.
func (s *Subscription) enqueue(payload any) {
	s.queue.Push(payload)
}

// signalStop closes this subscription's done channel and its intake
// queue without waiting for its workers to exit. Bus.Close calls this
// for every subscription before cancelling the shared context so a
// worker's in-flight invocation always sees done already closed by the
// time its context is cancelled (mirrors tasks.Subscription.signalStop;
// see tasks/subscription.go for the shutdown-misclassification hazard
// this ordering avoids).
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
// whole-bus shutdown and so have no shared-context race to avoid.
func (s *Subscription) stop() {
	s.signalStop()
	s.awaitStop()
}

// ID returns the subscription's identifier, suitable for diagnostics
// or as an unsubscribe handle.
func (s *Subscription) ID() string { return s.id }

// instrumentation centralizes the metrics this package records so Bus
// and Subscription share one set of instruments instead of each
// re-deriving names.
type instrumentation struct {
	published metrics.Counter
	dropped   metrics.Counter
	handled   metrics.Histogram
	failed    metrics.Counter
}

func newInstrumentation(p metrics.Provider) *instrumentation {
	return &instrumentation{
		published: p.Counter("events_published_total", metrics.WithDescription("events published to the bus")),
		dropped:    p.Counter("events_dropped_total", metrics.WithDescription("events dropped for payload type mismatch")),
		handled:    p.Histogram("events_handle_duration_seconds", metrics.WithDescription("event handler invocation duration")),
		failed:     p.Counter("events_failed_total", metrics.WithDescription("event handler invocations that returned an error")),
	}
}

func (i *instrumentation) observePublished() { i.published.Add(1) }

func (i *instrumentation) observeDropped() { i.dropped.Add(1) }

func (i *instrumentation) observeHandled(d time.Duration, err error) {
	i.handled.Record(d.Seconds())
	if err != nil {
		i.failed.Add(1)
	}
}
