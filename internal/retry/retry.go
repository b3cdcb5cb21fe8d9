// Package retry runs an operation under a bounded exponential backoff
// policy. Cancelling the context is the only way to stop a pending retry,
// which is how a newer status change supersedes an older one.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy configures retry behavior with exponential backoff.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64
}

// DefaultPolicy returns the status sync policy: three attempts, waiting
// 1s then 2s between them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

// Validate checks if the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry policy: base delay must be positive, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry policy: multiplier must be at least 1, got %g", p.Multiplier)
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay * Multiplier^(attempt-1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
}

// Schedule lists the waits between attempts for a run that never succeeds.
func (p Policy) Schedule() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		out = append(out, p.Delay(attempt))
	}
	return out
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any error in its chain) was marked
// with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ErrExhausted is wrapped around the last error once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Result contains the outcome of a retry run.
type Result struct {
	// Attempts is the number of times fn was called.
	Attempts int

	// LastError is the error from the last attempt, nil on success.
	LastError error
}

// Func is an operation that can be retried. attempt is 1-based.
type Func func(ctx context.Context, attempt int) error

// Option customizes Do.
type Option func(*runner)

type runner struct {
	after   func(time.Duration) <-chan time.Time
	onRetry func(attempt int, delay time.Duration, err error)
}

// WithAfter replaces time.After, letting tests observe and control waits.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(r *runner) { r.after = after }
}

// WithOnRetry registers a callback invoked before each wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *runner) { r.onRetry = fn }
}

// Do executes fn until it succeeds, returns a permanent error, the policy
// runs out of attempts, or ctx is cancelled. A cancelled context stops the
// run immediately, including while waiting between attempts.
func Do(ctx context.Context, p Policy, fn Func, opts ...Option) (Result, error) {
	r := runner{after: time.After}
	for _, opt := range opts {
		opt(&r)
	}

	var result Result
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			result.LastError = nil
			return result, nil
		}
		result.LastError = err

		if IsPermanent(err) {
			return result, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-r.after(delay):
		}
	}

	return result, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, result.Attempts, result.LastError)
}
