// Package retry provides the exponential-backoff executor wrapped around
// channel sends. It is a thin policy layer over cenkalti/backoff: bounded
// attempts, ±20% jitter, a capped maximum delay, and a permanent-error
// escape hatch for failures that must never be retried (channel-level
// blocks, bot interlock trips).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// defaultInitialInterval is the delay before the first retry.
	defaultInitialInterval = 2 * time.Second
	// defaultMaxInterval caps the delay between attempts.
	defaultMaxInterval = 30 * time.Second
	// defaultMaxAttempts bounds total attempts (first try included).
	defaultMaxAttempts = 3
	// jitterFactor randomizes each delay by ±20% to avoid thundering herds
	// against the channel provider.
	jitterFactor = 0.2
)

// Permanent wraps err so the executor stops immediately without consuming
// further attempts. Use for channel blocks and interlock trips.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// Executor retries an operation with exponential backoff and jitter. The
// zero value is not usable; construct with New.
type Executor struct {
	initial     time.Duration
	max         time.Duration
	maxAttempts uint64

	// OnRetry, when set, is invoked before each sleep with the attempt
	// number (1-based), the error that caused the retry, and the upcoming
	// delay. Used for logging and metrics.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Option customizes an Executor.
type Option func(*Executor)

// WithInitialInterval sets the delay before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(e *Executor) { e.initial = d }
}

// WithMaxInterval caps the delay between attempts.
func WithMaxInterval(d time.Duration) Option {
	return func(e *Executor) { e.max = d }
}

// WithMaxAttempts bounds the total number of attempts, first try included.
// Values below 1 are coerced to 1.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n < 1 {
			n = 1
		}
		e.maxAttempts = uint64(n)
	}
}

// New constructs an Executor with the default policy, then applies opts.
func New(opts ...Option) *Executor {
	e := &Executor{
		initial:     defaultInitialInterval,
		max:         defaultMaxInterval,
		maxAttempts: defaultMaxAttempts,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// attempt budget, or ctx is cancelled. The returned error is the last one
// op produced (unwrapped from its permanent marker, if any).
func (e *Executor) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initial
	bo.MaxInterval = e.max
	bo.RandomizationFactor = jitterFactor
	bo.MaxElapsedTime = 0 // attempts, not wall time, bound the loop

	attempt := 0
	wrapped := func() error {
		attempt++
		return op()
	}
	notify := func(err error, next time.Duration) {
		if e.OnRetry != nil {
			e.OnRetry(attempt, err, next)
		}
	}

	err := backoff.RetryNotify(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, e.maxAttempts-1), ctx),
		notify)
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return pe.Unwrap()
	}
	return err
}
