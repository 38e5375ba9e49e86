package eventmessage

// Resolver is the handler-resolution dependency the kernel takes from
// its host (spec.md component A). Given a handler key, it must produce a
// fresh handler instance living inside a disposable scope — typically a
// DI container's per-call scope. Only the commands dispatcher calls
// Resolve, once per Send, with the handler key passed to
// commands.Register; it invokes the returned handler once and calls
// release when Send returns, which on cancellation can be before the
// handler's goroutine has finished. Event and task
// subscriptions take their handler functions directly and never call
// Resolve.
//
// Implementations must be safe for concurrent use: the dispatcher may
// call Resolve for the same key from many goroutines simultaneously
// (one per in-flight command).
type Resolver interface {
	// Resolve returns the handler registered for key and a release func
	// that closes its scope. handler's concrete type is whatever the
	// caller registered it as; the commands dispatcher type-asserts it
	// back to commands.Handler[Req, R].
	Resolve(key string) (handler any, release func(), err error)
}

// ResolverFunc adapts a plain function to a Resolver for handlers that
// need no scope (the common case for in-process registration without a
// DI container): release is a no-op.
type ResolverFunc func(key string) (any, error)

func (f ResolverFunc) Resolve(key string) (any, func(), error) {
	h, err := f(key)
	return h, func() {}, err
}
