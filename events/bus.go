package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zonit/eventmessage/clock"
	"github.com/zonit/eventmessage/metrics"
)

// Bus is the publish/subscribe event engine (spec.md §4.D). Zero or
// more subscriptions may exist per routing key; Publish fans a payload
// out to every matching subscription's queue without blocking on any
// handler.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription

	clk     clock.Clock
	logger  zerolog.Logger
	instr   *instrumentation
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New returns an unstarted Bus. Call Start once the Kernel has
// finished wiring subscriptions.
func New(clk clock.Clock, logger zerolog.Logger, mp metrics.Provider) *Bus {
	return &Bus{
		subs:   make(map[string][]*Subscription),
		clk:    clk,
		logger: logger.With().Str("component", "events").Logger(),
		instr:  newInstrumentation(mp),
	}
}

// Start launches the worker goroutines for every subscription
// registered so far, and for every subscription registered afterwards.
// ctx governs the lifetime of every handler invocation: cancelling it
// cancels the invocations, and Close stops all workers.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	for _, list := range b.subs {
		for _, s := range list {
			s.start(b.ctx)
		}
	}
}

// Close cancels every in-flight handler invocation and waits for all
// subscription workers to return. Every subscription's done channel is
// closed before the shared context is cancelled (see
// tasks.Engine.Close for why that order matters once a worker
// distinguishes shutdown from an ordinary context cancellation).
func (b *Bus) Close() {
	b.mu.Lock()
	var all []*Subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	cancel := b.cancel
	b.mu.Unlock()

	for _, s := range all {
		s.signalStop()
	}
	if cancel != nil {
		cancel()
	}
	for _, s := range all {
		s.awaitStop()
	}
}

func (b *Bus) addSubscription(s *Subscription) {
	b.mu.Lock()
	b.subs[s.key] = append(b.subs[s.key], s)
	started, ctx := b.started, b.ctx
	b.mu.Unlock()

	if started {
		s.start(ctx)
	}
}

// publish fans payload out to every subscription registered under key
// without blocking on any handler.
func (b *Bus) publish(key string, payload any) {
	b.instr.observePublished()

	b.mu.RLock()
	subs := b.subs[key]
	b.mu.RUnlock()

	for _, s := range subs {
		s.enqueue(payload)
	}
}

// Subscribe registers a typed handler for E, routed by E's fully
// qualified type name (spec.md §4.D: "Subscribe<E>(handler, options)").
func Subscribe[E any](b *Bus, handler Handler[E], opts ...Option) (*Subscription, error) {
	return SubscribeKey[E](b, typeKeyOf[E](), handler, opts...)
}

// SubscribeKey registers a typed handler under an explicit routing key
// instead of E's type name (spec.md §4.D: "Subscribe(name, handler,
// options)"), letting callers fan multiple event shapes into one
// subscription key or vice versa.
func SubscribeKey[E any](b *Bus, key string, handler Handler[E], opts ...Option) (*Subscription, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	instr := b.instr
	invoke := func(ctx context.Context, payload any) error {
		typed, ok := payload.(E)
		if !ok {
			instr.observeDropped()
			b.logger.Warn().Str("key", key).Msgf("%v", ErrPayloadTypeMismatch)
			return nil
		}
		return handler(ctx, typed)
	}

	s := newSubscription(uuid.NewString(), key, o, invoke, b.clk, b.logger, b.instr)
	b.addSubscription(s)
	return s, nil
}

// Publish routes e to every subscription registered for E's type.
func Publish[E any](b *Bus, e E) {
	b.publish(typeKeyOf[E](), e)
}

// PublishKey routes payload to every subscription registered under
// key, bypassing type-name routing.
func PublishKey(b *Bus, key string, payload any) {
	b.publish(key, payload)
}

// Unsubscribe stops and removes a subscription. It is safe to call
// concurrently with Publish.
func (b *Bus) Unsubscribe(s *Subscription) error {
	b.mu.Lock()
	list, ok := b.subs[s.key]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%s: unknown subscription %s", Namespace, s.id)
	}
	filtered := make([]*Subscription, 0, len(list))
	found := false
	for _, cand := range list {
		if cand.id == s.id {
			found = true
			continue
		}
		filtered = append(filtered, cand)
	}
	b.subs[s.key] = filtered
	b.mu.Unlock()

	if !found {
		return fmt.Errorf("%s: unknown subscription %s", Namespace, s.id)
	}
	s.stop()
	return nil
}
