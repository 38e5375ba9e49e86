package commands

import "errors"

// Namespace prefixes every sentinel error this package defines, matching
// the teacher's convention (see ygrebnov/workers errors.go).
const Namespace = "commands"

var (
	// ErrNoHandler is returned by Send when the request's runtime type
	// has no registered handler.
	ErrNoHandler = errors.New(Namespace + ": no handler registered for request type")

	// ErrDuplicateHandler is returned by Register when a second handler
	// is registered for a request type that already has one.
	ErrDuplicateHandler = errors.New(Namespace + ": a handler is already registered for this request type")

	// ErrResponseTypeMismatch is returned by Send when the resolved
	// handler's result cannot be converted to the response type R the
	// caller asked for: Send[R] was called with an R other than the one
	// the request type was registered with via Register[Req, R]. (A
	// resolved handler that does not implement Handler[Req, R] is
	// reported as a HandlerError instead.)
	ErrResponseTypeMismatch = errors.New(Namespace + ": handler result does not match requested response type")
)

// HandlerError wraps any error returned by user handler code so callers
// can distinguish a handler failure from dispatcher-level failures
// (ErrNoHandler, ErrDuplicateHandler) via errors.As while still getting
// the original cause through Unwrap.
type HandlerError struct {
	RequestType string
	Cause       error
}

func (e *HandlerError) Error() string {
	return Namespace + ": handler for " + e.RequestType + " failed: " + e.Cause.Error()
}

func (e *HandlerError) Unwrap() error { return e.Cause }
