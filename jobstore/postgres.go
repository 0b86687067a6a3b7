package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AltairaLabs/DubKit/types"
)

// schema creates the three tables the store uses. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS transcreations (
	id                 TEXT PRIMARY KEY,
	original_audio_url TEXT NOT NULL,
	from_language      TEXT NOT NULL DEFAULT '',
	to_language        TEXT NOT NULL DEFAULT '',
	plan               TEXT NOT NULL DEFAULT '',
	owner_email        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	transcreation_id TEXT NOT NULL REFERENCES transcreations(id) ON DELETE CASCADE,
	position         INT NOT NULL,
	start_ms         BIGINT NOT NULL,
	end_ms           BIGINT NOT NULL,
	text             TEXT NOT NULL,
	source_text      TEXT NOT NULL DEFAULT '',
	speaker          TEXT NOT NULL DEFAULT '',
	voice            TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (transcreation_id, position)
);

CREATE TABLE IF NOT EXISTS job_status (
	transcreation_id TEXT PRIMARY KEY,
	state            TEXT NOT NULL,
	final_audio_url  TEXT NOT NULL DEFAULT '',
	failure_reason   TEXT NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore is a Store backed by Postgres via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the given DSN and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// PutTranscreation replaces the record and its transcript in one transaction.
func (s *PostgresStore) PutTranscreation(ctx context.Context, tc *types.Transcreation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO transcreations (id, original_audio_url, from_language, to_language, plan, owner_email)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			original_audio_url = EXCLUDED.original_audio_url,
			from_language = EXCLUDED.from_language,
			to_language = EXCLUDED.to_language,
			plan = EXCLUDED.plan,
			owner_email = EXCLUDED.owner_email`,
		tc.ID, tc.OriginalAudioURL, tc.FromLanguage, tc.ToLanguage, tc.Plan, tc.OwnerEmail)
	if err != nil {
		return fmt.Errorf("failed to upsert transcreation: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM transcript_segments WHERE transcreation_id = $1`, tc.ID); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	for i, seg := range tc.Segments {
		_, err := tx.Exec(ctx, `
			INSERT INTO transcript_segments
				(transcreation_id, position, start_ms, end_ms, text, source_text, speaker, voice)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			tc.ID, i, seg.StartMs, seg.EndMs, seg.Text, seg.SourceText, seg.Speaker, seg.Voice)
		if err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}

// GetTranscreation loads the record with its transcript ordered by start.
func (s *PostgresStore) GetTranscreation(ctx context.Context, id string) (*types.Transcreation, error) {
	var tc types.Transcreation
	err := s.pool.QueryRow(ctx, `
		SELECT id, original_audio_url, from_language, to_language, plan, owner_email, created_at
		FROM transcreations WHERE id = $1`, id).
		Scan(&tc.ID, &tc.OriginalAudioURL, &tc.FromLanguage, &tc.ToLanguage,
			&tc.Plan, &tc.OwnerEmail, &tc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcreation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT start_ms, end_ms, text, source_text, speaker, voice
		FROM transcript_segments WHERE transcreation_id = $1
		ORDER BY start_ms, position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seg types.TranscriptSegment
		if err := rows.Scan(&seg.StartMs, &seg.EndMs, &seg.Text,
			&seg.SourceText, &seg.Speaker, &seg.Voice); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		tc.Segments = append(tc.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return &tc, nil
}

// UpsertStatus writes the status row, locking it first so the
// completed-is-final rule holds under concurrent writers.
func (s *PostgresStore) UpsertStatus(ctx context.Context, status types.JobStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current *types.JobStatus
	var existing types.JobStatus
	err = tx.QueryRow(ctx, `
		SELECT transcreation_id, state, final_audio_url, failure_reason
		FROM job_status WHERE transcreation_id = $1 FOR UPDATE`, status.TranscreationID).
		Scan(&existing.TranscreationID, &existing.State, &existing.FinalAudioURL, &existing.FailureReason)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read status: %w", err)
	default:
		current = &existing
	}

	if !allowStatusWrite(current, status) {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO job_status (transcreation_id, state, final_audio_url, failure_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (transcreation_id) DO UPDATE SET
			state = EXCLUDED.state,
			final_audio_url = EXCLUDED.final_audio_url,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at`,
		status.TranscreationID, status.State, status.FinalAudioURL,
		status.FailureReason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert status: %w", err)
	}
	return tx.Commit(ctx)
}

// GetStatus returns the status row.
func (s *PostgresStore) GetStatus(ctx context.Context, transcreationID string) (*types.JobStatus, error) {
	var status types.JobStatus
	err := s.pool.QueryRow(ctx, `
		SELECT transcreation_id, state, final_audio_url, failure_reason, updated_at
		FROM job_status WHERE transcreation_id = $1`, transcreationID).
		Scan(&status.TranscreationID, &status.State, &status.FinalAudioURL,
			&status.FailureReason, &status.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status: %w", err)
	}
	return &status, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
