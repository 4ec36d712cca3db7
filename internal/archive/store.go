// Package archive persists what a session produces: recorded answer segments,
// skip marks, and the final outcome of each interview. The session machine
// writes here asynchronously so persistence never blocks a state transition.
//
// Two implementations exist: [MemStore] for single-process and test use, and
// [PGStore] backed by PostgreSQL for durable deployments.
package archive

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested interview has no archived data.
var ErrNotFound = errors.New("archive: not found")

// Segment is one archived answer recording.
type Segment struct {
	// InterviewID identifies the interview the segment belongs to.
	InterviewID string `json:"interview_id"`

	// QuestionID identifies the question that was answered.
	QuestionID string `json:"question_id"`

	// LocalRef is the device-side reference to the recorded audio.
	LocalRef string `json:"local_ref"`

	// Duration is the length of the recording.
	Duration time.Duration `json:"duration_ns"`

	// Uploaded reports whether the segment reached the backend.
	Uploaded bool `json:"uploaded"`

	// RecordedAt is when capture stopped.
	RecordedAt time.Time `json:"recorded_at"`
}

// Outcome is the terminal record of a session.
type Outcome struct {
	// InterviewID identifies the interview.
	InterviewID string `json:"interview_id"`

	// Completed is true when every question was answered or skipped, false
	// when the session was ended early.
	Completed bool `json:"completed"`

	// Answered is the number of questions with recorded segments.
	Answered int `json:"answered"`

	// Skipped is the number of questions explicitly skipped.
	Skipped int `json:"skipped"`

	// EndedAt is when the session reached its terminal state.
	EndedAt time.Time `json:"ended_at"`
}

// Store is the persistence surface the session machine writes to. All methods
// must be safe for concurrent use.
type Store interface {
	// SaveSegment records a new answer segment, replacing any previous
	// segment for the same question.
	SaveSegment(ctx context.Context, seg Segment) error

	// MarkUploaded flips the uploaded flag for a stored segment.
	MarkUploaded(ctx context.Context, interviewID, questionID string) error

	// Segments returns all stored segments for an interview, oldest first.
	Segments(ctx context.Context, interviewID string) ([]Segment, error)

	// SaveOutcome records the terminal state of a session.
	SaveOutcome(ctx context.Context, out Outcome) error

	// Outcome returns the stored outcome, or [ErrNotFound].
	Outcome(ctx context.Context, interviewID string) (Outcome, error)
}
