package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md0nahue/inkra-sub002/pkg/audio"
)

// fakeWriter records every directive sent to the device.
type fakeWriter struct {
	mu   sync.Mutex
	msgs []serverMessage
	err  error
}

func (f *fakeWriter) sendDirective(msg serverMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeWriter) byType(t string) []serverMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []serverMessage
	for _, m := range f.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func TestCaptureLifecycle(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	ports := newDevicePorts(w, "iv-1")

	rec, err := ports.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	starts := w.byType(dirCaptureStart)
	if len(starts) != 1 {
		t.Fatalf("want 1 capture_start directive, got %d", len(starts))
	}
	if starts[0].Ref != "iv-1/seg-0001" {
		t.Errorf("unexpected ref %q", starts[0].Ref)
	}

	ports.onLevel(0.6, 200*time.Millisecond)
	ports.onLevel(0.4, 900*time.Millisecond)

	got := <-rec.Levels()
	if got.Level != 0.6 || got.Elapsed != 200*time.Millisecond {
		t.Errorf("unexpected first sample: %+v", got)
	}

	clip, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if clip.Ref != "iv-1/seg-0001" {
		t.Errorf("clip ref = %q", clip.Ref)
	}
	if clip.Duration != 900*time.Millisecond {
		t.Errorf("clip duration = %v, want elapsed of last sample", clip.Duration)
	}
	if len(w.byType(dirCaptureStop)) != 1 {
		t.Error("capture_stop directive must be sent")
	}

	// Stop again returns the same clip without a second directive.
	again, err := rec.Stop()
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if again != clip {
		t.Errorf("second Stop returned %+v, want %+v", again, clip)
	}
	if len(w.byType(dirCaptureStop)) != 1 {
		t.Error("second Stop must not re-send the directive")
	}
}

func TestCapturePortBusy(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	ports := newDevicePorts(w, "iv-1")

	rec, err := ports.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := ports.Start(context.Background()); !errors.Is(err, audio.ErrPortBusy) {
		t.Fatalf("want ErrPortBusy while live, got %v", err)
	}

	if err := rec.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if len(w.byType(dirCaptureAbort)) != 1 {
		t.Error("capture_abort directive must be sent")
	}

	rec2, err := ports.Start(context.Background())
	if err != nil {
		t.Fatalf("Start after Abort: %v", err)
	}
	clip, _ := rec2.Stop()
	if clip.Ref != "iv-1/seg-0002" {
		t.Errorf("second recording must get a fresh ref, got %q", clip.Ref)
	}
}

func TestCaptureDenied(t *testing.T) {
	t.Parallel()

	ports := newDevicePorts(&fakeWriter{}, "iv-1")
	ports.setMicDenied(true)

	if _, err := ports.Start(context.Background()); !errors.Is(err, audio.ErrCaptureDenied) {
		t.Fatalf("want ErrCaptureDenied, got %v", err)
	}

	ports.setMicDenied(false)
	if _, err := ports.Start(context.Background()); err != nil {
		t.Fatalf("Start after permission granted: %v", err)
	}
}

func TestMicDenialAbortsLiveRecording(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	ports := newDevicePorts(w, "iv-1")

	rec, err := ports.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ports.setMicDenied(true)

	if _, ok := <-rec.Levels(); ok {
		t.Error("levels channel must be closed after denial")
	}
	if len(w.byType(dirCaptureAbort)) != 1 {
		t.Error("denial must abort the live recording")
	}
}

func TestCaptureContextCancelAborts(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	ports := newDevicePorts(w, "iv-1")

	ctx, cancel := context.WithCancel(context.Background())
	rec, err := ports.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for rec.(*deviceRecording).liveNow() {
		select {
		case <-deadline:
			t.Fatal("recording not aborted after context cancel")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestPlaybackLifecycle(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	ports := newDevicePorts(w, "iv-1")

	playing, err := ports.Play(context.Background(), audio.Narration{
		Text:     "Where did you grow up?",
		AudioURL: "https://cdn.example/q1.m4a",
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	plays := w.byType(dirPlay)
	if len(plays) != 1 {
		t.Fatalf("want 1 play directive, got %d", len(plays))
	}
	if plays[0].AudioURL != "https://cdn.example/q1.m4a" || plays[0].Text == "" {
		t.Errorf("unexpected play directive: %+v", plays[0])
	}

	if _, err := ports.Play(context.Background(), audio.Narration{}); !errors.Is(err, audio.ErrPortBusy) {
		t.Fatalf("want ErrPortBusy while playing, got %v", err)
	}

	ports.onPlaybackFinished("")
	if err := <-playing.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}

	// The port is free again.
	if _, err := ports.Play(context.Background(), audio.Narration{Text: "next"}); err != nil {
		t.Fatalf("Play after finish: %v", err)
	}
}

func TestPlaybackDeviceError(t *testing.T) {
	t.Parallel()

	ports := newDevicePorts(&fakeWriter{}, "iv-1")
	playing, err := ports.Play(context.Background(), audio.Narration{Text: "q"})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	ports.onPlaybackFinished("decoder crashed")
	got := <-playing.Done()
	if got == nil || !strings.Contains(got.Error(), "decoder crashed") {
		t.Fatalf("want device error surfaced, got %v", got)
	}
}

func TestPlaybackStop(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	ports := newDevicePorts(w, "iv-1")

	playing, err := ports.Play(context.Background(), audio.Narration{Text: "q"})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := playing.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-playing.Done(); err != nil {
		t.Fatalf("stopped playback must complete cleanly, got %v", err)
	}
	if len(w.byType(dirPlaybackStop)) != 1 {
		t.Error("playback_stop directive must be sent")
	}

	// Late device completion after Stop is harmless.
	ports.onPlaybackFinished("")
	if err := playing.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestLevelWithoutRecordingIsDropped(t *testing.T) {
	t.Parallel()

	ports := newDevicePorts(&fakeWriter{}, "iv-1")
	ports.onLevel(0.5, time.Second) // must not panic
	ports.onPlaybackFinished("")    // nor this
}
