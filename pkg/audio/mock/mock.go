// Package mock provides in-memory mock implementations of the
// [audio.CapturePort] and [audio.PlaybackPort] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	capture := &mock.CapturePort{}
//	playback := &mock.PlaybackPort{}
//	// ... hand both to the session machine, then drive the fakes:
//	rec := capture.ActiveRecording()
//	rec.EmitLevel(0.02, 100*time.Millisecond)
//	playback.ActivePlaying().Finish(nil)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/md0nahue/inkra-sub002/pkg/audio"
)

// ─── CapturePort ──────────────────────────────────────────────────────────────

// CapturePort is a mock implementation of [audio.CapturePort].
// Set the exported error fields before use; inspect the Call* fields after.
type CapturePort struct {
	mu sync.Mutex

	// StartError is returned by Start when non-nil. No Recording is created.
	StartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// Recordings holds every Recording handed out by Start, in order.
	Recordings []*Recording
}

// Start implements [audio.CapturePort]. Each successful call hands out a
// fresh live [Recording].
func (c *CapturePort) Start(_ context.Context) (audio.Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return nil, c.StartError
	}
	if last := c.lastLocked(); last != nil && last.Live() {
		return nil, audio.ErrPortBusy
	}
	rec := NewRecording()
	c.Recordings = append(c.Recordings, rec)
	return rec, nil
}

// ActiveRecording returns the most recently started Recording that is still
// live, or nil when no recording is in progress.
func (c *CapturePort) ActiveRecording() *Recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last := c.lastLocked(); last != nil && last.Live() {
		return last
	}
	return nil
}

func (c *CapturePort) lastLocked() *Recording {
	if len(c.Recordings) == 0 {
		return nil
	}
	return c.Recordings[len(c.Recordings)-1]
}

// Recording is a mock implementation of [audio.Recording]. Tests drive it via
// [Recording.EmitLevel] and configure the clip returned by Stop.
type Recording struct {
	mu sync.Mutex

	// StopClip is returned by Stop. Defaults to a clip with Ref "mock-clip"
	// and the elapsed duration of the last emitted level.
	StopClip *audio.Clip

	// StopError is returned by Stop when non-nil.
	StopError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountAbort records how many times Abort was called.
	CallCountAbort int

	levels  chan audio.LevelSample
	elapsed time.Duration
	live    bool
	clip    audio.Clip
}

// NewRecording creates a live mock Recording with a buffered level channel.
func NewRecording() *Recording {
	return &Recording{
		levels: make(chan audio.LevelSample, 64),
		live:   true,
	}
}

// EmitLevel pushes one level sample to the Levels channel. It is a no-op
// after the recording has stopped.
func (r *Recording) EmitLevel(level float64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live {
		return
	}
	r.elapsed = elapsed
	select {
	case r.levels <- audio.LevelSample{Level: level, Elapsed: elapsed}:
	default: // drop when the consumer is behind, like a real device would
	}
}

// Levels implements [audio.Recording].
func (r *Recording) Levels() <-chan audio.LevelSample {
	return r.levels
}

// Stop implements [audio.Recording].
func (r *Recording) Stop() (audio.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStop++
	if r.StopError != nil {
		return audio.Clip{}, r.StopError
	}
	if r.live {
		r.live = false
		close(r.levels)
		if r.StopClip != nil {
			r.clip = *r.StopClip
		} else {
			r.clip = audio.Clip{Ref: "mock-clip", Duration: r.elapsed}
		}
	}
	return r.clip, nil
}

// Abort implements [audio.Recording].
func (r *Recording) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountAbort++
	if r.live {
		r.live = false
		close(r.levels)
	}
	return nil
}

// Live reports whether the recording has not yet been stopped or aborted.
func (r *Recording) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// ─── PlaybackPort ─────────────────────────────────────────────────────────────

// PlaybackPort is a mock implementation of [audio.PlaybackPort].
type PlaybackPort struct {
	mu sync.Mutex

	// PlayError is returned by Play when non-nil. No Playing is created.
	PlayError error

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// Played holds every narration passed to Play, in order.
	Played []audio.Narration

	// Playings holds every Playing handed out by Play, in order.
	Playings []*Playing
}

// Play implements [audio.PlaybackPort]. Each successful call hands out a
// fresh live [Playing] that the test completes via [Playing.Finish].
func (p *PlaybackPort) Play(_ context.Context, n audio.Narration) (audio.Playing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountPlay++
	if p.PlayError != nil {
		return nil, p.PlayError
	}
	if last := p.lastLocked(); last != nil && last.Live() {
		return nil, audio.ErrPortBusy
	}
	p.Played = append(p.Played, n)
	pl := NewPlaying()
	p.Playings = append(p.Playings, pl)
	return pl, nil
}

// ActivePlaying returns the most recently started Playing that has not yet
// finished, or nil when nothing is playing.
func (p *PlaybackPort) ActivePlaying() *Playing {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last := p.lastLocked(); last != nil && last.Live() {
		return last
	}
	return nil
}

func (p *PlaybackPort) lastLocked() *Playing {
	if len(p.Playings) == 0 {
		return nil
	}
	return p.Playings[len(p.Playings)-1]
}

// Playing is a mock implementation of [audio.Playing].
type Playing struct {
	mu sync.Mutex

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	done chan error
	live bool
}

// NewPlaying creates a live mock Playing.
func NewPlaying() *Playing {
	return &Playing{
		done: make(chan error, 1),
		live: true,
	}
}

// Finish completes the playback, delivering err (nil for success) on the
// Done channel. Finishing twice is a no-op.
func (p *Playing) Finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live {
		return
	}
	p.live = false
	p.done <- err
	close(p.done)
}

// Done implements [audio.Playing].
func (p *Playing) Done() <-chan error {
	return p.done
}

// Stop implements [audio.Playing]. It finishes the playback with a nil error.
func (p *Playing) Stop() error {
	p.mu.Lock()
	p.CallCountStop++
	if !p.live {
		p.mu.Unlock()
		return nil
	}
	p.live = false
	p.done <- nil
	close(p.done)
	p.mu.Unlock()
	return nil
}

// Live reports whether playback has not yet finished.
func (p *Playing) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}
