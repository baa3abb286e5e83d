package dbengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WithTimeout races op against a deadline of d. If the timer wins, it
// returns a *TimeoutError carrying name for observability. If the
// underlying operation's context is the one cancelled, op is expected to
// notice ctx.Done() and return promptly; if it does not (the driver gives
// no real cancellation hook), op keeps running in the background and its
// result is discarded once the timeout already fired.
func WithTimeout[T any](parent context.Context, d time.Duration, name string, op func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := op(ctx)
		ch <- outcome{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, &TimeoutError{Operation: name, Elapsed: d}
	}
}

// withTimeoutErr is WithTimeout specialized to operations with no result
// value, used by transaction/batch.
func withTimeoutErr(parent context.Context, d time.Duration, name string, op func(ctx context.Context) error) error {
	_, err := WithTimeout(parent, d, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// newBackOff builds a cenkalti/backoff ExponentialBackOff from policy.
// WithRetry drives the attempt count itself (MaxElapsedTime is disabled) so
// that NextBackOff only ever computes the delay shape: InitialDelay first,
// multiplied by BackoffMultiplier each round and capped at MaxDelay.
func newBackOff(policy RetryPolicy) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.MaxInterval = policy.MaxDelay
	bo.Multiplier = policy.BackoffMultiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	// NewExponentialBackOff already reset the current interval to the
	// library's default; reset again so the first delay is InitialDelay.
	bo.Reset()
	return bo
}

// WithRetry loops op up to policy.MaxAttempts times. should_retry (nil
// defaults to IsRetryable) decides whether a given failure is worth another
// attempt; a Timeout is never retried regardless of what should_retry says.
// On exhausting the attempt budget it wraps the last error so callers can
// match on the attempt count in the message, matching the contract tested
// by scenario S4.
func WithRetry[T any](ctx context.Context, op func(ctx context.Context) (T, error), policy RetryPolicy, shouldRetry func(error) bool) (T, error) {
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	bo := newBackOff(policy)
	var zero T
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			return zero, err
		}

		lastErr = err
		if !shouldRetry(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if metrics != nil {
			metrics.retryCount.Add(ctx, 1)
		}

		wait := bo.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}
