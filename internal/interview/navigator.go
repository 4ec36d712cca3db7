package interview

import (
	"log/slog"
	"sort"
	"sync"
)

// Navigator holds the ordered question list, the answered-segment map, and
// the skipped set for one interview. It computes the next unanswered index
// and merges server-appended follow-up questions without disturbing indices
// the session has already visited.
//
// The Navigator is mutated only from the session state machine's serialized
// context; methods are nevertheless safe for concurrent use so that the
// gateway can snapshot progress while a session is live.
type Navigator struct {
	mu        sync.RWMutex
	questions []Question
	segments  map[string]RecordedSegment // questionID → segment
	skipped   map[string]bool            // questionID → user skipped
	current   int
}

// NewNavigator creates a Navigator over the initial question list. The list
// is ordered by the server-assigned Order field — the one client-side sort
// the contract permits.
func NewNavigator(questions []Question) *Navigator {
	qs := make([]Question, len(questions))
	copy(qs, questions)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })

	return &Navigator{
		questions: qs,
		segments:  make(map[string]RecordedSegment),
		skipped:   make(map[string]bool),
	}
}

// Len returns the current number of questions.
func (n *Navigator) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.questions)
}

// CurrentIndex returns the index of the question the session is on.
func (n *Navigator) CurrentIndex() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

// Current returns the question at the current index. ok is false when the
// navigator holds no questions.
func (n *Navigator) Current() (Question, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.questions) == 0 {
		return Question{}, false
	}
	return n.questions[n.current], true
}

// QuestionAt returns the question at index i. ok is false when i is out of
// bounds.
func (n *Navigator) QuestionAt(i int) (Question, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if i < 0 || i >= len(n.questions) {
		return Question{}, false
	}
	return n.questions[i], true
}

// SetCurrentIndex moves the session to question i. An out-of-bounds index is
// a programmer error; in production it is logged and ignored rather than
// crashing a live interview.
func (n *Navigator) SetCurrentIndex(i int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i < 0 || i >= len(n.questions) {
		slog.Error("navigator: index out of range, ignoring",
			"index", i, "questions", len(n.questions))
		return
	}
	n.current = i
}

// RecordSegment attaches seg to its question, replacing any previous segment
// for the same question. Recording a segment clears the question's skipped
// mark.
func (n *Navigator) RecordSegment(seg RecordedSegment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.segments[seg.QuestionID] = seg
	delete(n.skipped, seg.QuestionID)
}

// Segment returns the segment recorded for questionID, if any.
func (n *Navigator) Segment(questionID string) (RecordedSegment, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	seg, ok := n.segments[questionID]
	return seg, ok
}

// MarkUploaded flags the segment for questionID as acknowledged by the
// upload pipeline. Unknown IDs are ignored.
func (n *Navigator) MarkUploaded(questionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if seg, ok := n.segments[questionID]; ok {
		seg.Uploaded = true
		n.segments[questionID] = seg
	}
}

// MarkSkipped records that the user skipped questionID: no segment exists
// for it and FindNextUnanswered will not return to it.
func (n *Navigator) MarkSkipped(questionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.skipped[questionID] = true
}

// FindNextUnanswered scans forward from after+1 and returns the index of the
// first question that has neither a recorded segment nor a skipped mark.
// ok is false when every remaining question is answered or skipped, which
// signals interview completion.
func (n *Navigator) FindNextUnanswered(after int) (int, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for i := after + 1; i < len(n.questions); i++ {
		q := n.questions[i]
		if _, answered := n.segments[q.ID]; answered {
			continue
		}
		if n.skipped[q.ID] {
			continue
		}
		return i, true
	}
	return 0, false
}

// MergeFollowUps appends server-issued follow-up questions to the tail of
// the ordered list without renumbering existing entries. Questions already
// present (by ID) are ignored, so the merge is idempotent against repeated
// polls returning the same rows. The incoming follow-ups are appended in
// server Order; existing indices — including the current one — are never
// disturbed.
func (n *Navigator) MergeFollowUps(newQuestions []Question) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	known := make(map[string]bool, len(n.questions))
	for _, q := range n.questions {
		known[q.ID] = true
	}

	incoming := make([]Question, 0, len(newQuestions))
	for _, q := range newQuestions {
		if known[q.ID] {
			continue
		}
		incoming = append(incoming, q)
	}
	sort.SliceStable(incoming, func(i, j int) bool { return incoming[i].Order < incoming[j].Order })

	n.questions = append(n.questions, incoming...)
	return len(incoming)
}

// Questions returns a snapshot of the current ordered question list.
func (n *Navigator) Questions() []Question {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Question, len(n.questions))
	copy(out, n.questions)
	return out
}

// AnsweredCount returns the number of questions with a recorded segment.
func (n *Navigator) AnsweredCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.segments)
}

// SkippedCount returns the number of questions the user skipped.
func (n *Navigator) SkippedCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.skipped)
}
