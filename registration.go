package eventmessage

import (
	"context"

	"github.com/zonit/eventmessage/commands"
	"github.com/zonit/eventmessage/events"
	"github.com/zonit/eventmessage/tasks"
)

// RegisterCommand wires handlerKey as the handler for request type Req
// returning R (spec.md component J, forwarding to commands.Register).
func RegisterCommand[Req any, R any](k *Kernel, handlerKey string, mws ...commands.Middleware[Req, R]) error {
	return commands.Register[Req, R](k.Commands, handlerKey, mws...)
}

// Send dispatches req to its single registered handler and returns its
// typed result.
func Send[R any](ctx context.Context, k *Kernel, req any) (R, error) {
	return commands.Send[R](ctx, k.Commands, req)
}

// SubscribeEvent registers a typed handler for E on the kernel's event
// bus.
func SubscribeEvent[E any](k *Kernel, handler events.Handler[E], opts ...events.Option) (*events.Subscription, error) {
	return events.Subscribe[E](k.Events, handler, opts...)
}

// PublishEvent routes e to every subscription registered for E's type.
func PublishEvent[E any](k *Kernel, e E) {
	events.Publish[E](k.Events, e)
}

// SubscribeTask registers a typed handler for T on the kernel's task
// engine.
func SubscribeTask[T any](k *Kernel, handler tasks.Handler[T], opts ...tasks.Option) (*tasks.Subscription, error) {
	return tasks.Subscribe[T](k.Tasks, handler, opts...)
}

// PublishTask creates a fresh TaskId for t and enqueues it onto the
// subscription(s) registered for T's type.
func PublishTask[T any](k *Kernel, t T, extensionID string) string {
	return tasks.Publish[T](k.Tasks, t, extensionID)
}
