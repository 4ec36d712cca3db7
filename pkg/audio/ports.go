// Package audio defines the capture and playback ports used by the interview
// session orchestrator.
//
// The two primary abstractions are:
//
//   - [CapturePort] — exclusive microphone access; Start returns a [Recording]
//     that streams input-level samples and yields a [Clip] when stopped.
//   - [PlaybackPort] — exclusive narration/speaker access; Play returns a
//     [Playing] handle whose Done channel signals completion.
//
// Implementations are provided by device-specific adapter packages (e.g., the
// gateway's WebSocket bridge to a mobile client, or a local device adapter).
// The interfaces are intentionally narrow to keep the session state machine
// decoupled from transport details.
//
// Both ports are single-owner, single-use-at-a-time resources: the session
// state machine is the only caller permitted to start or stop them, and it
// never starts one without having observed stop-completion on the other.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [CapturePort] and [PlaybackPort].
package audio

import (
	"context"
	"errors"
)

// ErrCaptureDenied is returned by [CapturePort.Start] when the device refuses
// microphone access. The session surfaces this as a permission error that is
// only recoverable after the user grants access out-of-band.
var ErrCaptureDenied = errors.New("audio: microphone access denied")

// ErrPortBusy is returned when Start or Play is called while the port is
// already in use. The state machine treats this as an invariant violation.
var ErrPortBusy = errors.New("audio: port already in use")

// CapturePort grants exclusive access to the microphone.
//
// At most one [Recording] may be live at a time; Start returns [ErrPortBusy]
// while a previous recording has not been stopped or aborted.
type CapturePort interface {
	// Start begins capturing from the microphone. The returned Recording is
	// live until Stop or Abort is called. Cancelling ctx aborts the recording
	// as if Abort had been called.
	//
	// Returns ErrCaptureDenied when the device refuses microphone access and
	// ErrPortBusy when a recording is already live.
	Start(ctx context.Context) (Recording, error)
}

// Recording is a live microphone capture.
//
// A Recording is not safe for concurrent use by multiple goroutines except
// that Levels may be drained concurrently with a single Stop or Abort call.
type Recording interface {
	// Levels streams instantaneous input-level samples (0.0–1.0) at the
	// device's sampling cadence. The channel is closed when the recording
	// stops for any reason.
	Levels() <-chan LevelSample

	// Stop ends the capture and returns the recorded clip. Calling Stop on an
	// already-stopped recording returns the same clip without error.
	Stop() (Clip, error)

	// Abort ends the capture and discards the audio. Safe to call more than
	// once; Abort after Stop is a no-op.
	Abort() error
}

// PlaybackPort grants exclusive access to narration playback.
//
// At most one [Playing] may be live at a time; Play returns [ErrPortBusy]
// while previous playback has not finished or been stopped.
type PlaybackPort interface {
	// Play starts narration playback. Implementations play n.AudioURL when
	// set and fall back to synthesising n.Text otherwise. Cancelling ctx
	// stops playback as if Playing.Stop had been called.
	Play(ctx context.Context, n Narration) (Playing, error)
}

// Playing is an in-progress narration playback.
type Playing interface {
	// Done is closed when playback finishes. It carries at most one value:
	// a non-nil error when playback failed, nil when it completed or was
	// stopped. After the value, the channel is closed.
	Done() <-chan error

	// Stop halts playback immediately. Safe to call more than once and after
	// playback has already finished.
	Stop() error
}
