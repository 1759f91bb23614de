// Package retry provides the resilience wrapper used by every outbound call:
// bounded retries with exponential backoff, per-attempt timeouts composed with
// the caller's cancellation, and a circuit breaker for structurally failing
// upstreams.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options configures a retried operation.
// The zero value is not usable; use DefaultOptions as a starting point.
type Options struct {
	MaxRetries      int           // retries after the first attempt
	AttemptTimeout  time.Duration // per-attempt timeout (0 = caller context only)
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff cap

	// Retryable decides whether an error is worth another attempt.
	// Nil means Transient.
	Retryable func(error) bool
}

// DefaultOptions returns sensible defaults for hosted-API calls.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Transient reports whether an error looks like a transient upstream failure:
// rate limits, 5xx responses, resets, and timeouts.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// Rate limit errors - always retry
	if containsAny(errStr, "rate limit", "quota exceeded", "429") {
		return true
	}

	// Transient server errors - retry
	if containsAny(errStr, "500", "502", "503", "504", "unavailable") {
		return true
	}

	// Network errors - retry
	if containsAny(errStr, "connection reset", "timeout", "temporary", "deadline exceeded") {
		return true
	}

	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Do executes op with retry and exponential backoff.
//
// Each attempt receives a context composed from the caller's context and
// Options.AttemptTimeout, so one slow upstream call cannot block the retry
// budget. The attempt number (starting at 0) is passed to op so callers can
// change behavior on retry, e.g. skip a sub-call that already failed this
// request.
//
// Exhausting the budget returns the last error wrapped with the label and
// attempt count. Non-retryable errors return immediately.
func Do[T any](ctx context.Context, label string, opts Options, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	retryable := opts.Retryable
	if retryable == nil {
		retryable = Transient
	}
	delay := opts.InitialInterval
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxInterval
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	var lastErr error
	start := time.Now()

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		}

		result, err := op(attemptCtx, attempt)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}

		lastErr = err

		// The caller is gone; attempt-level timeouts are retryable, caller
		// cancellation is not.
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", label, ctx.Err())
		}

		if !retryable(err) {
			return zero, fmt.Errorf("%s: %w", label, err)
		}

		if attempt == opts.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s canceled during backoff: %w", label, ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, maxDelay)
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts (elapsed %v): %w",
		label, opts.MaxRetries+1, time.Since(start).Round(time.Millisecond), lastErr)
}
