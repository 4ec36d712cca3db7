package gateway

import (
	"github.com/md0nahue/inkra-sub002/internal/interview"
	"github.com/md0nahue/inkra-sub002/internal/session"
)

// ── Client → server messages ────────────────────────────────────────────────

// Client message types. The first message on a session socket must be
// [msgStart]; everything after is controls and device notifications.
const (
	msgStart  = "start"
	msgPause  = "pause"
	msgResume = "resume"
	msgNext   = "next"
	msgSkip   = "skip"
	msgRetry  = "retry"
	msgEnd    = "end"

	// Device notifications.
	msgLevel            = "level"
	msgPlaybackFinished = "playback_finished"
	msgMicStatus        = "mic_status"
	msgSegmentUploaded  = "segment_uploaded"
)

// clientMessage is the envelope for everything the device sends. Only the
// fields relevant to Type are set.
type clientMessage struct {
	Type string `json:"type"`

	// start
	Mode        string `json:"mode,omitempty"`
	AutoAdvance *bool  `json:"auto_advance,omitempty"`

	// level
	Level     float64 `json:"level,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms,omitempty"`

	// playback_finished
	Error string `json:"error,omitempty"`

	// mic_status
	Denied bool `json:"denied,omitempty"`

	// segment_uploaded
	QuestionID string `json:"question_id,omitempty"`
}

// ── Server → client messages ────────────────────────────────────────────────

// Server message types: session events plus device directives.
const (
	evtState     = "state_changed"
	evtQuestion  = "question"
	evtFollowUps = "follow_ups_merged"
	evtError     = "error"
	evtEnded     = "ended"

	dirPlay         = "play"
	dirPlaybackStop = "playback_stop"
	dirCaptureStart = "capture_start"
	dirCaptureStop  = "capture_stop"
	dirCaptureAbort = "capture_abort"
)

// questionView is the client-facing projection of a question.
type questionView struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	ChapterTitle string `json:"chapter_title,omitempty"`
	SectionTitle string `json:"section_title,omitempty"`
	Order        int    `json:"order"`
	IsFollowUp   bool   `json:"is_follow_up,omitempty"`
}

// serverMessage is the envelope for everything sent to the device.
type serverMessage struct {
	Type string `json:"type"`

	// state_changed / ended
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// question
	Question *questionView `json:"question,omitempty"`

	// follow_ups_merged
	Added int `json:"added,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// play
	Text     string  `json:"text,omitempty"`
	AudioURL string  `json:"audio_url,omitempty"`
	VoiceID  string  `json:"voice_id,omitempty"`
	Rate     float64 `json:"rate,omitempty"`

	// capture_start / capture_stop
	Ref string `json:"ref,omitempty"`
}

// viewOf projects a domain question for the wire.
func viewOf(q *interview.Question) *questionView {
	if q == nil {
		return nil
	}
	return &questionView{
		ID:           q.ID,
		Text:         q.Text,
		ChapterTitle: q.ChapterTitle,
		SectionTitle: q.SectionTitle,
		Order:        q.Order,
		IsFollowUp:   q.IsFollowUp,
	}
}

// eventMessage converts a session event into its wire form.
func eventMessage(ev session.Event) serverMessage {
	switch ev.Type {
	case session.EventState:
		return serverMessage{Type: evtState, From: string(ev.From), To: string(ev.To)}
	case session.EventQuestion:
		return serverMessage{Type: evtQuestion, Question: viewOf(ev.Question)}
	case session.EventFollowUps:
		return serverMessage{Type: evtFollowUps, Added: ev.Added}
	case session.EventError:
		return serverMessage{Type: evtError, Error: ev.Err}
	case session.EventEnded:
		return serverMessage{Type: evtEnded, From: string(ev.From), To: string(ev.To)}
	}
	return serverMessage{Type: string(ev.Type)}
}
