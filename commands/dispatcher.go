// Package commands implements the request/response engine (spec.md
// §4.B): exactly one registered handler per request type, returning a
// typed result with no implicit retry or timeout. Routing mirrors the
// teacher's task execution wrapper (ygrebnov/workers task.go): a
// handler call races against the caller's context in a goroutine so
// cancellation and completion compete fairly.
package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler is what a Resolver must hand back for a request type
// registered via Register[Req, R]. Req and R are the request's phantom
// input/response pair (spec.md §3).
type Handler[Req any, R any] interface {
	Handle(ctx context.Context, req Req) (R, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc[Req any, R any] func(ctx context.Context, req Req) (R, error)

func (f HandlerFunc[Req, R]) Handle(ctx context.Context, req Req) (R, error) { return f(ctx, req) }

// Middleware wraps a resolved handler with cross-cutting behaviour (its
// own logging, metrics, tracing) without the dispatcher prescribing
// one, mirroring the functional-option composition style the teacher
// uses throughout (options.go). Middleware is applied in the order
// passed to Register: the first middleware is outermost.
type Middleware[Req any, R any] func(next HandlerFunc[Req, R]) HandlerFunc[Req, R]

// Resolver is the external handler-resolution capability the dispatcher
// depends on (spec.md component A).
type Resolver interface {
	Resolve(key string) (handler any, release func(), err error)
}

type entry struct {
	handlerKey string
	invoke     func(ctx context.Context, resolved any, req any) (any, error)
}

// Dispatcher routes requests to their single registered handler.
type Dispatcher struct {
	resolver Resolver
	logger   zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]entry
}

// New returns a Dispatcher that resolves handlers through resolver and
// logs dropped/mismatched payloads and handler panics through logger.
func New(resolver Resolver, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		logger:   logger.With().Str("component", "commands").Logger(),
		handlers: make(map[string]entry),
	}
}

// Register wires handlerKey (the key the Resolver will receive) as the
// handler for request type Req, returning R. Only one handler may be
// registered per Req; a second call returns ErrDuplicateHandler.
// Register is intended for startup wiring, before Start/Send traffic
// begins, and does not need to be safe against concurrent Send calls.
//
// Any mws are composed around the resolved handler in the order given
// (the first is outermost) on every Send, after the handler is
// resolved through a fresh scope and before handle's cancellation race
// begins.
func Register[Req any, R any](d *Dispatcher, handlerKey string, mws ...Middleware[Req, R]) error {
	reqKey := typeKeyOf[Req]()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[reqKey]; exists {
		return ErrDuplicateHandler
	}

	d.handlers[reqKey] = entry{
		handlerKey: handlerKey,
		invoke: func(ctx context.Context, resolved any, req any) (any, error) {
			typedReq, ok := req.(Req)
			if !ok {
				return nil, fmt.Errorf("%s: request payload is not %T", Namespace, typedReq)
			}
			h, ok := resolved.(Handler[Req, R])
			if !ok {
				return nil, fmt.Errorf("%s: resolved handler for %q does not implement Handler[%T,%T]",
					Namespace, handlerKey, typedReq, *new(R))
			}
			fn := HandlerFunc[Req, R](h.Handle)
			for i := len(mws) - 1; i >= 0; i-- {
				fn = mws[i](fn)
			}
			return handle[Req, R](ctx, fn, typedReq)
		},
	}
	return nil
}

// handle races the handler invocation against ctx cancellation,
// catching panics as HandlerErrors — grounded on the teacher's
// task.go execute() wrapper (goroutine + done channel + recover).
func handle[Req any, R any](ctx context.Context, h Handler[Req, R], req Req) (result any, err error) {
	type outcome struct {
		r   R
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if p := recover(); p != nil {
				o = outcome{err: fmt.Errorf("%s: handler panicked: %v", Namespace, p)}
			}
			done <- o
		}()
		r, e := h.Handle(ctx, req)
		o = outcome{r: r, err: e}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return o.r, nil
	}
}

// Send resolves and invokes the single handler registered for req's
// runtime type, returning its typed result unchanged (spec.md §4.B).
func Send[R any](ctx context.Context, d *Dispatcher, req any) (R, error) {
	var zero R

	reqKey := typeKey(req)

	d.mu.RLock()
	e, ok := d.handlers[reqKey]
	d.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNoHandler, reqKey)
	}

	resolved, release, err := d.resolver.Resolve(e.handlerKey)
	if err != nil {
		return zero, err
	}
	defer release()

	result, err := e.invoke(ctx, resolved, req)
	if err != nil {
		d.logger.Error().Err(err).Str("request_type", reqKey).Msg("command handler failed")
		return zero, &HandlerError{RequestType: reqKey, Cause: err}
	}

	typed, ok := result.(R)
	if !ok {
		return zero, ErrResponseTypeMismatch
	}
	return typed, nil
}
