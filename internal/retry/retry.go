// Package retry runs a fallible operation with a bounded number of retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"pantry-gpt/internal/scanerr"
)

// Policy bounds how often and how quickly an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Delay is the wait between attempts (the base delay when Backoff is set).
	Delay time.Duration
	// Backoff doubles the delay after each attempt, with jitter, up to MaxDelay.
	Backoff  bool
	MaxDelay time.Duration
	// AttemptTimeout bounds a single attempt. Zero means no per-attempt timeout.
	AttemptTimeout time.Duration
}

// ExhaustedError is returned once every attempt failed with a recoverable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed, last error: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Attempts returns the total number of calls the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

func (p Policy) wait(attempt int) time.Duration {
	if !p.Backoff {
		return p.Delay
	}
	backoff := p.Delay * time.Duration(1<<uint(attempt))
	if p.MaxDelay > 0 && backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}
	// Add jitter by randomly adjusting +/- 20%
	return time.Duration(float64(backoff) * (0.8 + 0.4*rand.Float64()))
}

// Do executes op until it succeeds, fails with a non-recoverable error, or the
// retry budget is spent. A per-attempt timeout counts as recoverable; a
// cancelled parent context does not.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.wait(attempt)):
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return scanerr.IsRecoverable(err)
}
