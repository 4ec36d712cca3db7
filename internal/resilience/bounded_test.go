package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestBoundedReturnsResultBeforeDeadline(t *testing.T) {
	t.Parallel()

	got, err := Bounded(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "ready", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ready" {
		t.Fatalf("want ready, got %q", got)
	}
}

func TestBoundedTimesOutSlowOperation(t *testing.T) {
	t.Parallel()

	started := time.Now()
	_, err := Bounded(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("want ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("bounded call did not fail fast: took %v", elapsed)
	}
}

func TestBoundedReportsParentCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Bounded(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimedOut) {
		t.Fatal("parent cancellation must not be reported as a timeout")
	}
}

func TestBoundedRetryRetriesOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	got, err := BoundedRetry(context.Background(), time.Second, 2, func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("first attempt fails")
		}
		return "created", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "created" {
		t.Fatalf("want created, got %q", got)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("want 2 attempts, got %d", n)
	}
}

func TestBoundedRetryStopsAtAttemptLimit(t *testing.T) {
	t.Parallel()

	boom := errors.New("still down")
	var calls atomic.Int32
	_, err := BoundedRetry(context.Background(), time.Second, 2, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("want exactly 2 attempts, got %d", n)
	}
}
