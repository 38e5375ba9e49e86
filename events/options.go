package events

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Options controls how a single subscription's worker pool runs
// (spec.md §4.D, §8).
type Options struct {
	// WorkerCount bounds how many invocations of this subscription's
	// handler may run concurrently.
	WorkerCount uint `validate:"gte=1"`

	// Timeout bounds a single handler invocation. Exceeding it cancels
	// the invocation's context; the worker records the failure and
	// moves on.
	Timeout time.Duration `validate:"gt=0"`

	// ContinueOnError controls whether a worker that sees a handler
	// error (including timeout) keeps consuming the queue. When false,
	// that worker stops; the subscription's other workers are
	// unaffected.
	ContinueOnError bool
}

// DefaultOptions matches spec.md §8's defaults: ten workers, a
// thirty-second per-invocation timeout, and workers that keep going
// after an error.
func DefaultOptions() Options {
	return Options{
		WorkerCount:     10,
		Timeout:         30 * time.Second,
		ContinueOnError: true,
	}
}

// Option mutates Options built from DefaultOptions.
type Option func(*Options)

func WithWorkerCount(n uint) Option { return func(o *Options) { o.WorkerCount = n } }

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

func WithContinueOnError(v bool) Option { return func(o *Options) { o.ContinueOnError = v } }

func resolveOptions(opts []Option) (Options, error) {
	o := DefaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	if err := validate.Struct(o); err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return o, nil
}
