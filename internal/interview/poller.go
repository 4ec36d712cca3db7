package interview

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// defaultPollInterval is how often the poller re-queries the backend while
// waiting for generated content.
const defaultPollInterval = 1 * time.Second

// ReadinessClient is the thin query surface the poller needs from the
// content backend. Implemented by the backend client; tests supply fakes.
type ReadinessClient interface {
	// AvailableQuestions returns the interview's current question set. A
	// question's AudioURL stays nil until narration generation completes.
	AvailableQuestions(ctx context.Context, interviewID string) ([]Question, error)
}

// Predicate inspects a readiness snapshot and reports whether the content
// the caller is waiting for exists, returning that question when it does.
type Predicate func(questions []Question) (Question, bool)

// FirstQuestionReady is satisfied once the interview's opening question (the
// one with the lowest server-assigned order) exists and its narration audio
// has been generated. A later question whose narration finished first does
// not count: the session must open on the opening question, or the
// forward-only navigator would never present it.
func FirstQuestionReady(questions []Question) (Question, bool) {
	q, ok := openingQuestion(questions)
	if !ok || !q.HasAudio() {
		return Question{}, false
	}
	return q, true
}

// FirstQuestionExists is satisfied once the interview's opening question
// exists at all, regardless of narration state. Used in reading mode.
func FirstQuestionExists(questions []Question) (Question, bool) {
	return openingQuestion(questions)
}

// openingQuestion returns the question with the lowest order. Snapshots are
// not guaranteed to arrive sorted.
func openingQuestion(questions []Question) (Question, bool) {
	if len(questions) == 0 {
		return Question{}, false
	}
	first := questions[0]
	for _, q := range questions[1:] {
		if q.Order < first.Order {
			first = q
		}
	}
	return first, true
}

// QuestionAudioReady returns a predicate satisfied once the question with
// the given ID carries narration audio.
func QuestionAudioReady(questionID string) Predicate {
	return func(questions []Question) (Question, bool) {
		for _, q := range questions {
			if q.ID == questionID && q.HasAudio() {
				return q, true
			}
		}
		return Question{}, false
	}
}

// QuestionTextReady returns a predicate satisfied once the question with the
// given ID exists at all, regardless of narration state. Used in reading
// mode, where the session shows text without waiting for audio.
func QuestionTextReady(questionID string) Predicate {
	return func(questions []Question) (Question, bool) {
		for _, q := range questions {
			if q.ID == questionID {
				return q, true
			}
		}
		return Question{}, false
	}
}

// PollObserver receives poll-loop progress for instrumentation. All methods
// may be called from the poller's goroutine; implementations must be safe
// for concurrent use. A nil observer is valid.
type PollObserver interface {
	PollAttempt(interviewID string, err error)
	PollSatisfied(interviewID string, waited time.Duration, attempts int)
}

// Poller repeatedly queries a [ReadinessClient] until a predicate is
// satisfied. It deliberately has no attempt limit and no overall deadline:
// question and narration generation are asynchronous backend jobs of
// unbounded but typically short duration, so the poller is cancelled by the
// caller (session pause, error, or end) rather than by a clock.
type Poller struct {
	client   ReadinessClient
	interval time.Duration
	observer PollObserver
}

// PollerOption configures a [Poller].
type PollerOption func(*Poller)

// WithInterval overrides the default 1 s poll interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithObserver attaches a [PollObserver] for metrics.
func WithObserver(o PollObserver) PollerOption {
	return func(p *Poller) { p.observer = o }
}

// NewPoller creates a Poller backed by client.
func NewPoller(client ReadinessClient, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   client,
		interval: defaultPollInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// WaitUntilReady queries the backend every interval until pred is satisfied
// and returns the matching question. The question returned is always one the
// predicate confirmed.
//
// Query errors are logged and retried — a momentarily unreachable backend is
// indistinguishable from content that is still generating, and both resolve
// the same way: by asking again. The only exit paths are predicate
// satisfaction and ctx cancellation.
func (p *Poller) WaitUntilReady(ctx context.Context, interviewID string, pred Predicate) (Question, error) {
	start := time.Now()
	attempts := 0

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		attempts++
		questions, err := p.client.AvailableQuestions(ctx, interviewID)
		if p.observer != nil {
			p.observer.PollAttempt(interviewID, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Question{}, fmt.Errorf("poller: cancelled: %w", ctx.Err())
			}
			slog.Debug("poller: query failed, retrying",
				"interview_id", interviewID, "attempt", attempts, "err", err)
		} else if q, ok := pred(questions); ok {
			if p.observer != nil {
				p.observer.PollSatisfied(interviewID, time.Since(start), attempts)
			}
			return q, nil
		}

		select {
		case <-ctx.Done():
			return Question{}, fmt.Errorf("poller: cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
