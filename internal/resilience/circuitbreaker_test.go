package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	fail := func() error { return errBackend }
	for i := 0; i < 3; i++ {
		if err := b.Do(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: want errBackend, got %v", i, err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("want open after 3 failures, got %v", got)
	}

	// Calls are rejected without invoking fn.
	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("want ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while the breaker is open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return nil }) // resets the streak
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })

	if got := b.State(); got != StateClosed {
		t.Fatalf("want closed (streak was reset), got %v", got)
	}
}

func TestBreakerHalfOpenProbing(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	_ = b.Do(func() error { return errBackend })
	if got := b.State(); got != StateOpen {
		t.Fatalf("want open, got %v", got)
	}

	time.Sleep(15 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("want half-open after reset timeout, got %v", got)
	}

	t.Run("probe failure re-opens", func(t *testing.T) {
		if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := b.State(); got != StateOpen {
			t.Fatalf("want re-opened, got %v", got)
		}
	})

	t.Run("successful probes close", func(t *testing.T) {
		time.Sleep(15 * time.Millisecond)
		for i := 0; i < 2; i++ {
			if err := b.Do(func() error { return nil }); err != nil {
				t.Fatalf("probe %d: unexpected error: %v", i, err)
			}
		}
		if got := b.State(); got != StateClosed {
			t.Fatalf("want closed after successful probes, got %v", got)
		}
	})
}

func TestBreakerManualReset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Do(func() error { return errBackend })
	if got := b.State(); got != StateOpen {
		t.Fatalf("want open, got %v", got)
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("want closed after Reset, got %v", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("call after Reset failed: %v", err)
	}
}
