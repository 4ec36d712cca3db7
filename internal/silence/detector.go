// Package silence implements the voice-activity silence detector that drives
// speech-mode auto-advance.
//
// The detector consumes instantaneous input-level samples (0.0–1.0) from a
// live recording and maintains a rolling below-threshold duration. Once the
// user has been quiet for the configured window it emits exactly one
// speech-ended signal and suspends itself until explicitly reset. Any sample
// above the threshold resets the rolling counter to zero.
//
// Detector teardown and the session's state transition are not perfectly
// atomic across goroutines, so a signal can occasionally be delivered just
// after the session has left the listening state. The session state machine
// guards against this with its epoch check; the detector only guarantees
// at-most-once delivery per armed period.
package silence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/md0nahue/inkra-sub002/pkg/audio"
)

// Defaults observed to work well for interview speech.
const (
	defaultThreshold = 0.08
	defaultWindow    = 3 * time.Second
)

// Config holds the detector tuning parameters.
type Config struct {
	// Threshold is the input level below which a sample counts as quiet.
	// Range (0.0, 1.0). Default: 0.08.
	Threshold float64

	// Window is how long the input must stay below Threshold before the
	// speech-ended signal fires. Default: 3 s.
	Window time.Duration
}

// Detector watches one level stream at a time. Arm starts watching, Disarm
// stops it; the speech-ended callback fires at most once per armed period.
//
// All methods are safe for concurrent use.
type Detector struct {
	threshold float64
	window    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Detector. Zero-value config fields get defaults; out-of-range
// values are rejected.
func New(cfg Config) (*Detector, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Threshold < 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("silence: threshold %v out of range (0,1)", cfg.Threshold)
	}
	if cfg.Window < 0 {
		return nil, errors.New("silence: window must be positive")
	}
	return &Detector{
		threshold: cfg.Threshold,
		window:    cfg.Window,
	}, nil
}

// Arm starts consuming levels in a background goroutine. speechEnded is
// invoked at most once, from that goroutine, when the rolling quiet duration
// exceeds the window. The goroutine exits when the signal has fired, when
// levels is closed, when ctx is cancelled, or when Disarm is called.
//
// Arming an already-armed detector cancels the previous period without
// waiting for its goroutine to exit: callers arm while holding the state
// lock that the previous period's callback may itself be blocked on, so Arm
// must never wait on that callback. A signal from the cancelled period can
// therefore still be delivered after Arm returns; callers drop it as stale.
func (d *Detector) Arm(ctx context.Context, levels <-chan audio.LevelSample, speechEnded func()) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.mu.Lock()
	prev := d.cancel
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	if prev != nil {
		prev()
	}

	go func() {
		defer close(done)
		d.watch(runCtx, levels, speechEnded)
	}()
}

// Disarm stops the current watch loop and waits for it to exit, guaranteeing
// no signal is delivered after Disarm returns. Disarming an idle detector is
// a no-op.
func (d *Detector) Disarm() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// watch is the sampling loop. The quiet counter is anchored on the samples'
// own elapsed timestamps so that device-side sampling jitter does not skew
// the window.
func (d *Detector) watch(ctx context.Context, levels <-chan audio.LevelSample, speechEnded func()) {
	var quietSince time.Duration
	quiet := false

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-levels:
			if !ok {
				return
			}
			if sample.Level >= d.threshold {
				quiet = false
				continue
			}
			if !quiet {
				quiet = true
				quietSince = sample.Elapsed
				continue
			}
			if sample.Elapsed-quietSince >= d.window {
				speechEnded()
				return // suspend until re-armed
			}
		}
	}
}
