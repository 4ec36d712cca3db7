package interview

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultCooldown is the window within which a repeated identical action is
// dropped.
const defaultCooldown = 5 * time.Second

// ErrNotApplied signals from the guarded function that the action had no
// effect in the current state. The guard treats it as if nothing ran: the
// cool-down stamp is cleared and the caller sees a nil error, so the next
// legitimate attempt is not locked out by a no-op.
var ErrNotApplied = errors.New("interview: action not applied")

// ActionGuard rejects a repeated create/advance request arriving within a
// cool-down window of an identical attempt, or while an identical request is
// still in flight. It guards against double-taps and re-entrant calls from
// overlapping UI and timer callbacks — not against network-level retries,
// which the bounded-timeout client handles separately.
//
// All methods are safe for concurrent use.
type ActionGuard struct {
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	last     map[string]time.Time
	inflight singleflight.Group
}

// GuardOption configures an [ActionGuard].
type GuardOption func(*ActionGuard)

// WithCooldown overrides the default 5 s cool-down window.
func WithCooldown(d time.Duration) GuardOption {
	return func(g *ActionGuard) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

// WithClock overrides the time source. Tests use this to avoid sleeping.
func WithClock(now func() time.Time) GuardOption {
	return func(g *ActionGuard) { g.now = now }
}

// NewActionGuard creates an ActionGuard.
func NewActionGuard(opts ...GuardOption) *ActionGuard {
	g := &ActionGuard{
		cooldown: defaultCooldown,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Do runs fn unless an identical action (same key) ran within the cool-down
// window. Suppressed calls return suppressed=true and a nil error — dropped
// silently by design, with no error surfaced and no duplicate side effect.
//
// Calls arriving while an identical action is still in flight are collapsed
// onto the in-flight call via singleflight: fn runs once and every caller
// observes its result.
func (g *ActionGuard) Do(key string, fn func() error) (suppressed bool, err error) {
	g.mu.Lock()
	if at, ok := g.last[key]; ok && g.now().Sub(at) < g.cooldown {
		g.mu.Unlock()
		return true, nil
	}
	g.last[key] = g.now()
	g.mu.Unlock()

	_, err, shared := g.inflight.Do(key, func() (any, error) {
		return nil, fn()
	})
	if err != nil {
		// A failed or inapplicable attempt should not lock the action out
		// for the full window; clear the stamp so an immediate retry is
		// allowed.
		g.mu.Lock()
		if at, ok := g.last[key]; ok && !at.After(g.now()) {
			delete(g.last, key)
		}
		g.mu.Unlock()
		if errors.Is(err, ErrNotApplied) {
			err = nil
		}
	}
	return shared, err
}

// Reset clears the cool-down stamp for key, allowing the next identical
// action through immediately.
func (g *ActionGuard) Reset(key string) {
	g.mu.Lock()
	delete(g.last, key)
	g.mu.Unlock()
}
