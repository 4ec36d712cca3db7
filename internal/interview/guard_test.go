package interview

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestActionGuardSuppressesWithinCooldown(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := NewActionGuard(WithCooldown(5*time.Second), WithClock(clock.Now))

	var calls atomic.Int32
	run := func() (bool, error) {
		return g.Do("create-interview", func() error {
			calls.Add(1)
			return nil
		})
	}

	if suppressed, err := run(); suppressed || err != nil {
		t.Fatalf("first call: suppressed=%v err=%v", suppressed, err)
	}

	// Double-tap 200 ms later: exactly one backend request in total.
	clock.Advance(200 * time.Millisecond)
	suppressed, err := run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !suppressed {
		t.Fatal("second call within the cool-down must be suppressed")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("want exactly 1 execution, got %d", got)
	}

	// After the window the action is allowed again.
	clock.Advance(5 * time.Second)
	if suppressed, _ := run(); suppressed {
		t.Fatal("call after the cool-down must run")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("want 2 executions after the window, got %d", got)
	}
}

func TestActionGuardDistinctKeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := NewActionGuard(WithCooldown(5*time.Second), WithClock(clock.Now))

	var calls atomic.Int32
	fn := func() error { calls.Add(1); return nil }

	if s, _ := g.Do("create", fn); s {
		t.Fatal("create suppressed")
	}
	if s, _ := g.Do("advance", fn); s {
		t.Fatal("distinct action must not be suppressed by another key's stamp")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("want 2 executions, got %d", got)
	}
}

func TestActionGuardCollapsesInFlightDuplicates(t *testing.T) {
	t.Parallel()

	// Zero-advance clock plus a tiny cooldown so the stamp expires while fn
	// is still running; the in-flight duplicate must still be collapsed.
	g := NewActionGuard(WithCooldown(time.Nanosecond))

	release := make(chan struct{})
	var calls atomic.Int32
	slow := func() error {
		calls.Add(1)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Stagger so the second call arrives mid-flight.
			if i == 1 {
				time.Sleep(20 * time.Millisecond)
			}
			results[i], _ = g.Do("advance", slow)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("want 1 execution for overlapping duplicates, got %d", got)
	}
	if !results[0] && !results[1] {
		t.Fatal("one of the overlapping calls must be reported as collapsed")
	}
}

func TestActionGuardClearsStampOnFailure(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := NewActionGuard(WithCooldown(5*time.Second), WithClock(clock.Now))

	boom := errors.New("backend down")
	if _, err := g.Do("create", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("want wrapped failure, got %v", err)
	}

	// A failed attempt must not lock the user out for the full window.
	var ran bool
	if suppressed, _ := g.Do("create", func() error { ran = true; return nil }); suppressed || !ran {
		t.Fatalf("retry after failure suppressed=%v ran=%v", suppressed, ran)
	}
}

func TestActionGuardNotAppliedDoesNotArmCooldown(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := NewActionGuard(WithCooldown(5*time.Second), WithClock(clock.Now))

	// The action lands in a state where it has no effect: the caller must
	// see no error and the window must not arm.
	suppressed, err := g.Do("advance", func() error { return ErrNotApplied })
	if suppressed || err != nil {
		t.Fatalf("no-op attempt: suppressed=%v err=%v", suppressed, err)
	}

	// The immediately following legitimate attempt runs.
	var ran bool
	clock.Advance(100 * time.Millisecond)
	if suppressed, _ := g.Do("advance", func() error { ran = true; return nil }); suppressed || !ran {
		t.Fatalf("attempt after no-op suppressed=%v ran=%v", suppressed, ran)
	}
}

func TestActionGuardReset(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := NewActionGuard(WithCooldown(5*time.Second), WithClock(clock.Now))

	var calls atomic.Int32
	fn := func() error { calls.Add(1); return nil }

	_, _ = g.Do("create", fn)
	g.Reset("create")
	if suppressed, _ := g.Do("create", fn); suppressed {
		t.Fatal("call after Reset must run")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("want 2 executions, got %d", got)
	}
}
