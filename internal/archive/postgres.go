package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PGStore)(nil)

const ddlArchive = `
CREATE TABLE IF NOT EXISTS interview_segments (
    interview_id TEXT         NOT NULL,
    question_id  TEXT         NOT NULL,
    local_ref    TEXT         NOT NULL,
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    uploaded     BOOLEAN      NOT NULL DEFAULT FALSE,
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (interview_id, question_id)
);

CREATE INDEX IF NOT EXISTS idx_interview_segments_interview
    ON interview_segments (interview_id, recorded_at);

CREATE TABLE IF NOT EXISTS interview_outcomes (
    interview_id TEXT         PRIMARY KEY,
    completed    BOOLEAN      NOT NULL,
    answered     INT          NOT NULL DEFAULT 0,
    skipped      INT          NOT NULL DEFAULT 0,
    ended_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// PGStore is a PostgreSQL-backed [Store] holding a single [pgxpool.Pool].
// All operations are safe for concurrent use.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore, establishes a connection pool to the database
// at dsn, and runs the schema migration.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlArchive); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &PGStore{pool: pool}, nil
}

// SaveSegment implements [Store]. Re-recording a question upserts the row and
// resets the uploaded flag.
func (s *PGStore) SaveSegment(ctx context.Context, seg Segment) error {
	const q = `
		INSERT INTO interview_segments
		    (interview_id, question_id, local_ref, duration_ns, uploaded, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (interview_id, question_id) DO UPDATE
		SET local_ref   = EXCLUDED.local_ref,
		    duration_ns = EXCLUDED.duration_ns,
		    uploaded    = EXCLUDED.uploaded,
		    recorded_at = EXCLUDED.recorded_at`

	_, err := s.pool.Exec(ctx, q,
		seg.InterviewID,
		seg.QuestionID,
		seg.LocalRef,
		seg.Duration.Nanoseconds(),
		seg.Uploaded,
		seg.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: save segment: %w", err)
	}
	return nil
}

// MarkUploaded implements [Store].
func (s *PGStore) MarkUploaded(ctx context.Context, interviewID, questionID string) error {
	const q = `
		UPDATE interview_segments
		SET    uploaded = TRUE
		WHERE  interview_id = $1 AND question_id = $2`

	tag, err := s.pool.Exec(ctx, q, interviewID, questionID)
	if err != nil {
		return fmt.Errorf("archive: mark uploaded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("archive: mark uploaded %s/%s: %w", interviewID, questionID, ErrNotFound)
	}
	return nil
}

// Segments implements [Store].
func (s *PGStore) Segments(ctx context.Context, interviewID string) ([]Segment, error) {
	const q = `
		SELECT interview_id, question_id, local_ref, duration_ns, uploaded, recorded_at
		FROM   interview_segments
		WHERE  interview_id = $1
		ORDER  BY recorded_at`

	rows, err := s.pool.Query(ctx, q, interviewID)
	if err != nil {
		return nil, fmt.Errorf("archive: query segments: %w", err)
	}

	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Segment, error) {
		var (
			seg        Segment
			durationNS int64
		)
		if err := row.Scan(
			&seg.InterviewID,
			&seg.QuestionID,
			&seg.LocalRef,
			&durationNS,
			&seg.Uploaded,
			&seg.RecordedAt,
		); err != nil {
			return Segment{}, err
		}
		seg.Duration = time.Duration(durationNS)
		return seg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan segments: %w", err)
	}
	if segs == nil {
		segs = []Segment{}
	}
	return segs, nil
}

// SaveOutcome implements [Store].
func (s *PGStore) SaveOutcome(ctx context.Context, out Outcome) error {
	const q = `
		INSERT INTO interview_outcomes (interview_id, completed, answered, skipped, ended_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (interview_id) DO UPDATE
		SET completed = EXCLUDED.completed,
		    answered  = EXCLUDED.answered,
		    skipped   = EXCLUDED.skipped,
		    ended_at  = EXCLUDED.ended_at`

	_, err := s.pool.Exec(ctx, q, out.InterviewID, out.Completed, out.Answered, out.Skipped, out.EndedAt)
	if err != nil {
		return fmt.Errorf("archive: save outcome: %w", err)
	}
	return nil
}

// Outcome implements [Store].
func (s *PGStore) Outcome(ctx context.Context, interviewID string) (Outcome, error) {
	const q = `
		SELECT interview_id, completed, answered, skipped, ended_at
		FROM   interview_outcomes
		WHERE  interview_id = $1`

	var out Outcome
	err := s.pool.QueryRow(ctx, q, interviewID).Scan(
		&out.InterviewID,
		&out.Completed,
		&out.Answered,
		&out.Skipped,
		&out.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Outcome{}, fmt.Errorf("archive: outcome %s: %w", interviewID, ErrNotFound)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("archive: query outcome: %w", err)
	}
	return out, nil
}

// Ping probes the connection pool. Used by the readiness checker.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *PGStore) Close() {
	s.pool.Close()
}
