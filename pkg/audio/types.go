package audio

import "time"

// LevelSample is one instantaneous microphone input-level reading flowing
// from a [Recording] to the silence detector. Samples are the atomic unit of
// voice-activity input — the detector never sees raw PCM, only levels.
type LevelSample struct {
	// Level is the normalised input level, 0.0 (silence) to 1.0 (clipping).
	Level float64

	// Elapsed is the time since the recording started.
	Elapsed time.Duration
}

// Clip is the result of a stopped [Recording]: a reference to locally stored
// audio plus its duration. The orchestrator attaches a Clip to at most one
// question at a time.
type Clip struct {
	// Ref is the device-local reference to the recorded audio (file path or
	// upload handle). Opaque to the orchestrator.
	Ref string

	// Duration is the total captured duration.
	Duration time.Duration
}

// Narration describes one question's spoken prompt for [PlaybackPort.Play].
type Narration struct {
	// Text is the question text, used for synthesis when AudioURL is empty.
	Text string

	// AudioURL points at server-generated narration audio. Empty until the
	// backend finishes generating it.
	AudioURL string

	// VoiceID selects the narration voice. Empty means the device default.
	VoiceID string

	// Rate is the speech-rate multiplier. Zero means the device default.
	Rate float64
}
