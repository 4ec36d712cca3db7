package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/md0nahue/inkra-sub002/pkg/audio"
)

// directiveWriter sends one directive to the connected device. Implemented by
// the session socket; tests supply fakes.
type directiveWriter interface {
	sendDirective(msg serverMessage) error
}

// devicePorts implements [audio.CapturePort] and [audio.PlaybackPort] over a
// session socket. The actual microphone and speaker live on the device; the
// gateway sends directives and the device streams level samples and playback
// completions back. The orchestrator stays oblivious to the transport.
//
// Recorded audio never crosses the socket — the device keeps it locally under
// a server-assigned ref, which is what the archive stores.
type devicePorts struct {
	w           directiveWriter
	interviewID string

	mu        sync.Mutex
	micDenied bool
	seq       int
	rec       *deviceRecording
	play      *devicePlaying
}

func newDevicePorts(w directiveWriter, interviewID string) *devicePorts {
	return &devicePorts{w: w, interviewID: interviewID}
}

// ── CapturePort ─────────────────────────────────────────────────────────────

// Start implements [audio.CapturePort]. The clip ref is assigned here so that
// Stop can return it without a round trip to the device.
func (d *devicePorts) Start(ctx context.Context) (audio.Recording, error) {
	d.mu.Lock()
	if d.micDenied {
		d.mu.Unlock()
		return nil, audio.ErrCaptureDenied
	}
	if d.rec != nil && d.rec.liveNow() {
		d.mu.Unlock()
		return nil, audio.ErrPortBusy
	}
	d.seq++
	ref := fmt.Sprintf("%s/seg-%04d", d.interviewID, d.seq)
	rec := newDeviceRecording(d.w, ref)
	d.rec = rec
	d.mu.Unlock()

	if err := d.w.sendDirective(serverMessage{Type: dirCaptureStart, Ref: ref}); err != nil {
		rec.close()
		return nil, fmt.Errorf("gateway: capture start: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = rec.Abort()
		case <-rec.done:
		}
	}()
	return rec, nil
}

// ── PlaybackPort ────────────────────────────────────────────────────────────

// Play implements [audio.PlaybackPort]. Completion arrives from the device as
// a playback_finished notification.
func (d *devicePorts) Play(ctx context.Context, n audio.Narration) (audio.Playing, error) {
	d.mu.Lock()
	if d.play != nil && d.play.liveNow() {
		d.mu.Unlock()
		return nil, audio.ErrPortBusy
	}
	play := newDevicePlaying(d.w)
	d.play = play
	d.mu.Unlock()

	err := d.w.sendDirective(serverMessage{
		Type:     dirPlay,
		Text:     n.Text,
		AudioURL: n.AudioURL,
		VoiceID:  n.VoiceID,
		Rate:     n.Rate,
	})
	if err != nil {
		play.finish(fmt.Errorf("gateway: play directive: %w", err))
		return nil, fmt.Errorf("gateway: play: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = play.Stop()
		case <-play.ended:
		}
	}()
	return play, nil
}

// ── Device notification dispatch ────────────────────────────────────────────

// onLevel routes one level sample from the device to the live recording.
// Samples arriving between recordings are dropped.
func (d *devicePorts) onLevel(level float64, elapsed time.Duration) {
	d.mu.Lock()
	rec := d.rec
	d.mu.Unlock()
	if rec != nil {
		rec.emit(level, elapsed)
	}
}

// onPlaybackFinished completes the live playback with the device-reported
// outcome.
func (d *devicePorts) onPlaybackFinished(deviceErr string) {
	d.mu.Lock()
	play := d.play
	d.mu.Unlock()
	if play == nil {
		return
	}
	if deviceErr != "" {
		play.finish(fmt.Errorf("gateway: device playback: %s", deviceErr))
		return
	}
	play.finish(nil)
}

// setMicDenied records the device's microphone permission state. A denial
// also tears down any capture in progress.
func (d *devicePorts) setMicDenied(denied bool) {
	d.mu.Lock()
	d.micDenied = denied
	rec := d.rec
	d.mu.Unlock()
	if denied && rec != nil {
		_ = rec.Abort()
	}
}

// ── deviceRecording ─────────────────────────────────────────────────────────

// deviceRecording implements [audio.Recording] for a device-side capture.
type deviceRecording struct {
	w   directiveWriter
	ref string

	mu      sync.Mutex
	live    bool
	elapsed time.Duration
	clip    audio.Clip

	levels chan audio.LevelSample
	done   chan struct{}
}

func newDeviceRecording(w directiveWriter, ref string) *deviceRecording {
	return &deviceRecording{
		w:      w,
		ref:    ref,
		live:   true,
		levels: make(chan audio.LevelSample, 64),
		done:   make(chan struct{}),
	}
}

func (r *deviceRecording) liveNow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// emit pushes one device level sample to the detector stream. Samples are
// dropped when the consumer is behind, matching real device behaviour.
func (r *deviceRecording) emit(level float64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live {
		return
	}
	r.elapsed = elapsed
	select {
	case r.levels <- audio.LevelSample{Level: level, Elapsed: elapsed}:
	default:
	}
}

// Levels implements [audio.Recording].
func (r *deviceRecording) Levels() <-chan audio.LevelSample {
	return r.levels
}

// Stop implements [audio.Recording]. The clip duration is the elapsed time of
// the last level sample the device reported.
func (r *deviceRecording) Stop() (audio.Clip, error) {
	r.mu.Lock()
	if r.live {
		r.live = false
		r.clip = audio.Clip{Ref: r.ref, Duration: r.elapsed}
		close(r.levels)
		close(r.done)
		r.mu.Unlock()
		if err := r.w.sendDirective(serverMessage{Type: dirCaptureStop, Ref: r.ref}); err != nil {
			return r.clip, fmt.Errorf("gateway: capture stop: %w", err)
		}
		return r.clip, nil
	}
	clip := r.clip
	r.mu.Unlock()
	return clip, nil
}

// Abort implements [audio.Recording].
func (r *deviceRecording) Abort() error {
	r.mu.Lock()
	if !r.live {
		r.mu.Unlock()
		return nil
	}
	r.live = false
	close(r.levels)
	close(r.done)
	r.mu.Unlock()

	if err := r.w.sendDirective(serverMessage{Type: dirCaptureAbort, Ref: r.ref}); err != nil {
		return fmt.Errorf("gateway: capture abort: %w", err)
	}
	return nil
}

// close tears the recording down without signalling the device. Used when the
// start directive itself failed.
func (r *deviceRecording) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live {
		r.live = false
		close(r.levels)
		close(r.done)
	}
}

// ── devicePlaying ───────────────────────────────────────────────────────────

// devicePlaying implements [audio.Playing] for a device-side narration.
type devicePlaying struct {
	w directiveWriter

	mu    sync.Mutex
	live  bool
	done  chan error
	ended chan struct{}
}

func newDevicePlaying(w directiveWriter) *devicePlaying {
	return &devicePlaying{
		w:     w,
		live:  true,
		done:  make(chan error, 1),
		ended: make(chan struct{}),
	}
}

func (p *devicePlaying) liveNow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *devicePlaying) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live {
		return
	}
	p.live = false
	p.done <- err
	close(p.done)
	close(p.ended)
}

// Done implements [audio.Playing].
func (p *devicePlaying) Done() <-chan error {
	return p.done
}

// Stop implements [audio.Playing]. The device is told to halt; the completion
// is delivered locally so the orchestrator never waits on the socket.
func (p *devicePlaying) Stop() error {
	p.mu.Lock()
	if !p.live {
		p.mu.Unlock()
		return nil
	}
	p.live = false
	p.done <- nil
	close(p.done)
	close(p.ended)
	p.mu.Unlock()

	if err := p.w.sendDirective(serverMessage{Type: dirPlaybackStop}); err != nil {
		return fmt.Errorf("gateway: playback stop: %w", err)
	}
	return nil
}
