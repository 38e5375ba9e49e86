package events

import "errors"

// Namespace prefixes every sentinel error this package defines.
const Namespace = "events"

var (
	// ErrTransactionCommitted is returned by Enqueue once a Transaction
	// has been committed.
	ErrTransactionCommitted = errors.New(Namespace + ": transaction already committed")

	// ErrTransactionDisposed is returned by operations on a Transaction
	// after Dispose has run.
	ErrTransactionDisposed = errors.New(Namespace + ": transaction already disposed")

	// ErrInvalidOptions is returned when Subscribe options fail
	// validation (see Options' validate tags).
	ErrInvalidOptions = errors.New(Namespace + ": invalid subscription options")
)

// ErrPayloadTypeMismatch is logged and dropped internally when a
// published payload's runtime type is not assignable to a typed
// subscription's declared event type (spec.md §4.D, §7). It is never
// returned to a caller of Publish; it exists as a named error so the
// drop path has one consistent identity in logs.
var ErrPayloadTypeMismatch = errors.New(Namespace + ": payload type does not match subscription's declared type")
