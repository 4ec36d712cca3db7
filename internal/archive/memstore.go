package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. It is the default when no PostgreSQL DSN
// is configured, and the implementation tests run against.
type MemStore struct {
	mu       sync.RWMutex
	segments map[string]map[string]Segment // interviewID -> questionID -> segment
	outcomes map[string]Outcome
}

// NewMemStore creates an empty in-memory archive.
func NewMemStore() *MemStore {
	return &MemStore{
		segments: make(map[string]map[string]Segment),
		outcomes: make(map[string]Outcome),
	}
}

// SaveSegment implements [Store].
func (m *MemStore) SaveSegment(_ context.Context, seg Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byQuestion, ok := m.segments[seg.InterviewID]
	if !ok {
		byQuestion = make(map[string]Segment)
		m.segments[seg.InterviewID] = byQuestion
	}
	byQuestion[seg.QuestionID] = seg
	return nil
}

// MarkUploaded implements [Store].
func (m *MemStore) MarkUploaded(_ context.Context, interviewID, questionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, ok := m.segments[interviewID][questionID]
	if !ok {
		return fmt.Errorf("archive: mark uploaded %s/%s: %w", interviewID, questionID, ErrNotFound)
	}
	seg.Uploaded = true
	m.segments[interviewID][questionID] = seg
	return nil
}

// Segments implements [Store].
func (m *MemStore) Segments(_ context.Context, interviewID string) ([]Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byQuestion := m.segments[interviewID]
	out := make([]Segment, 0, len(byQuestion))
	for _, seg := range byQuestion {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// SaveOutcome implements [Store].
func (m *MemStore) SaveOutcome(_ context.Context, out Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[out.InterviewID] = out
	return nil
}

// Outcome implements [Store].
func (m *MemStore) Outcome(_ context.Context, interviewID string) (Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out, ok := m.outcomes[interviewID]
	if !ok {
		return Outcome{}, fmt.Errorf("archive: outcome %s: %w", interviewID, ErrNotFound)
	}
	return out, nil
}

// Ping implements the readiness probe surface. An in-memory store is always
// reachable.
func (m *MemStore) Ping(_ context.Context) error { return nil }
