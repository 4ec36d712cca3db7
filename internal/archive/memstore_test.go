package archive

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemStoreSaveAndListSegments(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	segs := []Segment{
		{InterviewID: "iv-1", QuestionID: "q2", LocalRef: "rec-2.m4a", Duration: 40 * time.Second, RecordedAt: base.Add(2 * time.Minute)},
		{InterviewID: "iv-1", QuestionID: "q1", LocalRef: "rec-1.m4a", Duration: 30 * time.Second, RecordedAt: base},
		{InterviewID: "iv-2", QuestionID: "q1", LocalRef: "other.m4a", RecordedAt: base},
	}
	for _, seg := range segs {
		if err := s.SaveSegment(ctx, seg); err != nil {
			t.Fatalf("SaveSegment: %v", err)
		}
	}

	got, err := s.Segments(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 segments, got %d", len(got))
	}
	if got[0].QuestionID != "q1" || got[1].QuestionID != "q2" {
		t.Errorf("segments not in chronological order: %+v", got)
	}
}

func TestMemStoreReRecordReplacesSegment(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	first := Segment{InterviewID: "iv-1", QuestionID: "q1", LocalRef: "take-1.m4a", Uploaded: true}
	if err := s.SaveSegment(ctx, first); err != nil {
		t.Fatalf("SaveSegment: %v", err)
	}

	second := Segment{InterviewID: "iv-1", QuestionID: "q1", LocalRef: "take-2.m4a"}
	if err := s.SaveSegment(ctx, second); err != nil {
		t.Fatalf("SaveSegment: %v", err)
	}

	got, err := s.Segments(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 segment after re-record, got %d", len(got))
	}
	if got[0].LocalRef != "take-2.m4a" {
		t.Errorf("want latest take, got %q", got[0].LocalRef)
	}
	if got[0].Uploaded {
		t.Error("re-recorded segment must not inherit the uploaded flag")
	}
}

func TestMemStoreMarkUploaded(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	if err := s.SaveSegment(ctx, Segment{InterviewID: "iv-1", QuestionID: "q1", LocalRef: "a.m4a"}); err != nil {
		t.Fatalf("SaveSegment: %v", err)
	}
	if err := s.MarkUploaded(ctx, "iv-1", "q1"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	got, _ := s.Segments(ctx, "iv-1")
	if !got[0].Uploaded {
		t.Error("segment must be marked uploaded")
	}

	if err := s.MarkUploaded(ctx, "iv-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown segment, got %v", err)
	}
}

func TestMemStoreOutcome(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	if _, err := s.Outcome(ctx, "iv-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound before save, got %v", err)
	}

	out := Outcome{InterviewID: "iv-1", Completed: true, Answered: 8, Skipped: 2, EndedAt: time.Now()}
	if err := s.SaveOutcome(ctx, out); err != nil {
		t.Fatalf("SaveOutcome: %v", err)
	}

	got, err := s.Outcome(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if !got.Completed || got.Answered != 8 || got.Skipped != 2 {
		t.Errorf("unexpected outcome: %+v", got)
	}
}

func TestMemStoreEmptyInterview(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	got, err := s.Segments(context.Background(), "iv-none")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty slice, got %d segments", len(got))
	}
}
