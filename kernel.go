package eventmessage

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/zonit/eventmessage/clock"
	"github.com/zonit/eventmessage/commands"
	"github.com/zonit/eventmessage/events"
	"github.com/zonit/eventmessage/metrics"
	"github.com/zonit/eventmessage/tasks"
	"github.com/zonit/eventmessage/tasks/state"
)

// Kernel wires the three engines together with a shared resolver,
// logger, and clock (spec.md component K, the startup orchestrator).
// The zero value is not usable; construct with New.
type Kernel struct {
	Commands *commands.Dispatcher
	Events   *events.Bus
	Tasks    *tasks.Engine

	cancel context.CancelFunc
}

// Config holds the Kernel's constructor-time dependencies and
// per-engine defaults.
type Config struct {
	Resolver Resolver
	Logger   zerolog.Logger
	Clock    clock.Clock
	Metrics  metrics.Provider

	TaskStateOptions state.Options
}

// DefaultConfig returns a Config with a real clock, a no-op metrics
// provider, and the task state store's default retention policy. The
// caller must still supply a Resolver.
func DefaultConfig(resolver Resolver, logger zerolog.Logger) Config {
	return Config{
		Resolver:         resolver,
		Logger:           logger,
		Clock:            clock.System{},
		Metrics:          metrics.NewNoopProvider(),
		TaskStateOptions: state.DefaultOptions(),
	}
}

// New constructs the three engines from cfg. Handlers must still be
// registered (via commands.Register / events.Subscribe / tasks.Subscribe,
// or the RegisterCommand/SubscribeEvent/SubscribeTask helpers in
// registration.go) before calling Start.
func New(cfg Config) *Kernel {
	return &Kernel{
		Commands: commands.New(cfg.Resolver, cfg.Logger),
		Events:   events.New(cfg.Clock, cfg.Logger, cfg.Metrics),
		Tasks:    tasks.New(cfg.Clock, cfg.Logger, cfg.Metrics, cfg.TaskStateOptions),
	}
}

// Start launches every engine's background workers: the events bus's
// subscription goroutines, the task engine's subscription goroutines,
// and the task state store's retention sweep (spec.md component K:
// "iterates registered subscriptions and wires them into B/D/G at
// boot"). Commands need no startup step — they dispatch synchronously
// on Send.
func (k *Kernel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.Events.Start(ctx)
	k.Tasks.Start(ctx)
}

// Close cancels every in-flight handler invocation and waits for all
// engine workers to stop. Each engine's own Close runs first, so every
// subscription's done channel is closed before the context Start
// derived is cancelled (see tasks.Engine.Close for why the order
// matters).
func (k *Kernel) Close() {
	k.Events.Close()
	k.Tasks.Close()
	if k.cancel != nil {
		k.cancel()
	}
}
