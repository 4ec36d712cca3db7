package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut is returned by [Bounded] when the operation loses the race
// against its deadline.
var ErrTimedOut = errors.New("resilience: operation timed out")

// Bounded races op against a deadline: whichever finishes first wins and the
// loser is cancelled. Direct network calls (interview creation, question
// fetches) go through Bounded so they fail fast; generation-completion waits
// deliberately do not — those are cancelled by the caller, never by a clock.
//
// A parent-context cancellation is reported as the parent's error, not as
// [ErrTimedOut].
func Bounded[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := op(opCtx)
	if err == nil {
		return out, nil
	}

	var zero T
	if ctx.Err() != nil {
		return zero, fmt.Errorf("resilience: cancelled: %w", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return zero, fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	}
	return zero, err
}

// BoundedRetry runs op through [Bounded] up to attempts times, stopping on
// the first success or parent-context cancellation. The interview-creation
// round trip uses attempts=2: one retry, no more — rapid user retries are
// handled by the duplicate-action guard instead.
func BoundedRetry[T any](ctx context.Context, timeout time.Duration, attempts int, op func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		out     T
		lastErr error
	)
	for i := 0; i < attempts; i++ {
		out, lastErr = Bounded(ctx, timeout, op)
		if lastErr == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	var zero T
	return zero, fmt.Errorf("resilience: %d attempt(s) failed: %w", attempts, lastErr)
}
