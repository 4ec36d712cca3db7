// Package interview holds the domain model of a live interview: the question
// list and its navigation rules, the readiness poller that waits for
// asynchronously generated backend content, and the duplicate-action guard.
package interview

import "time"

// Mode selects how the interview is conducted.
type Mode string

const (
	// ModeReading shows questions as text; the user reads and answers.
	ModeReading Mode = "reading"

	// ModeSpeech narrates questions aloud and supports silence-based
	// auto-advance.
	ModeSpeech Mode = "speech"
)

// IsValid reports whether m is a recognised interview mode.
func (m Mode) IsValid() bool {
	return m == ModeReading || m == ModeSpeech
}

// Question is one server-generated interview question. A Question is an
// immutable server fact once fetched: the client never mutates it and never
// re-orders the list beyond the server-assigned Order.
type Question struct {
	// ID is the server-assigned question identifier.
	ID string `json:"id"`

	// Text is the question prompt.
	Text string `json:"text"`

	// ChapterTitle and SectionTitle locate the question in the interview
	// outline.
	ChapterTitle string `json:"chapter_title"`
	SectionTitle string `json:"section_title"`

	// Order is the server-assigned position. For a follow-up it is computed
	// server-side as 1 + max(existing order in the parent's section); the
	// client must not re-derive it.
	Order int `json:"order"`

	// IsFollowUp marks questions generated in response to an earlier answer.
	IsFollowUp bool `json:"is_follow_up"`

	// ParentQuestionID is set on follow-ups to the question whose answer
	// triggered them.
	ParentQuestionID string `json:"parent_question_id,omitempty"`

	// AudioURL points at the narrated audio for this question. Nil until the
	// backend finishes generating it — exactly the nilness the readiness
	// poller inspects.
	AudioURL *string `json:"audio_url"`
}

// HasAudio reports whether narration audio has been generated.
func (q Question) HasAudio() bool {
	return q.AudioURL != nil && *q.AudioURL != ""
}

// RecordedSegment is one user response: the local audio reference produced
// when capture stopped. Keyed by QuestionID — at most one live segment per
// question; re-recording replaces it.
type RecordedSegment struct {
	// QuestionID is the question this segment answers.
	QuestionID string

	// LocalRef is the device-local reference to the recorded audio.
	LocalRef string

	// Duration is the captured duration.
	Duration time.Duration

	// Uploaded is set once the external upload pipeline acknowledges the
	// segment.
	Uploaded bool

	// RecordedAt is when capture stopped.
	RecordedAt time.Time
}
