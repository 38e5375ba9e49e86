// Package errtag tags a handler failure with the subscription and
// routing-key context it occurred under, so a caller that only has the
// error (a log sink, an observer) can recover which subscription and
// message produced it via errors.As, without the engines needing to
// thread that context through every error return.
//
// Adapted from the teacher's error-tagging pattern (ygrebnov/workers
// error_tagging.go), which tagged a worker-pool task's ID and index;
// here the tag is a subscription id plus a message identity (event
// routing key, or task id) since that is what events and tasks
// subscriptions actually have to report against.
package errtag

import (
	"errors"
	"fmt"
)

// Tagged exposes the subscription/message context a handler failure
// occurred under.
type Tagged interface {
	error
	Unwrap() error
	SubscriptionID() string
	MessageID() string
}

type taggedError struct {
	err            error
	subscriptionID string
	messageID      string
}

// Tag wraps err with subscription and message identity. Returns nil if
// err is nil, so callers can write `return errtag.Tag(err, ...)` in an
// error-returning function without a nil check.
func Tag(err error, subscriptionID, messageID string) error {
	if err == nil {
		return nil
	}
	return &taggedError{err: err, subscriptionID: subscriptionID, messageID: messageID}
}

func (e *taggedError) Error() string { return e.err.Error() }

func (e *taggedError) Unwrap() error { return e.err }

func (e *taggedError) SubscriptionID() string { return e.subscriptionID }

func (e *taggedError) MessageID() string { return e.messageID }

func (e *taggedError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "subscription(id=%s,message=%s): %+v", e.subscriptionID, e.messageID, e.err)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// SubscriptionID extracts the tagged subscription id, if err (or
// anything it wraps) was produced by Tag.
func SubscriptionID(err error) (string, bool) {
	var t Tagged
	if errors.As(err, &t) {
		return t.SubscriptionID(), true
	}
	return "", false
}

// MessageID extracts the tagged message id, if err (or anything it
// wraps) was produced by Tag.
func MessageID(err error) (string, bool) {
	var t Tagged
	if errors.As(err, &t) {
		return t.MessageID(), true
	}
	return "", false
}
