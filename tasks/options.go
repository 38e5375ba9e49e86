package tasks

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ProgressStep is one entry of a task's step plan (spec.md §3
// "ProgressStep"): an estimated duration and an optional default
// message shown until the handler overrides it.
type ProgressStep struct {
	EstimatedDuration time.Duration
	Message           string
}

// Options controls a task subscription's worker pool, retry policy,
// per-invocation timeout, and optional progress plan (spec.md §4.F,
// §6).
type Options struct {
	WorkerCount     uint `validate:"gte=1"`
	Timeout         time.Duration `validate:"gt=0"`
	ContinueOnError bool
	MaxRetries      uint `validate:"gte=0"`
	RetryDelay      time.Duration `validate:"gte=0"`
	ProgressSteps   []ProgressStep
}

// DefaultOptions matches spec.md §6's table: ten workers, a five-minute
// timeout, a five-second retry delay, zero retries, no step plan.
func DefaultOptions() Options {
	return Options{
		WorkerCount:     10,
		Timeout:         5 * time.Minute,
		ContinueOnError: true,
		MaxRetries:      0,
		RetryDelay:      5 * time.Second,
	}
}

type Option func(*Options)

func WithWorkerCount(n uint) Option { return func(o *Options) { o.WorkerCount = n } }

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

func WithContinueOnError(v bool) Option { return func(o *Options) { o.ContinueOnError = v } }

func WithMaxRetries(n uint) Option { return func(o *Options) { o.MaxRetries = n } }

func WithRetryDelay(d time.Duration) Option { return func(o *Options) { o.RetryDelay = d } }

func WithProgressSteps(steps ...ProgressStep) Option {
	return func(o *Options) { o.ProgressSteps = steps }
}

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
