// Package jobstore persists transcreation records and their derived job
// status. The runtime reads transcreations and upserts a single status row
// per transcreation; completed status is final and later writes are ignored.
package jobstore

import (
	"context"

	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/types"
)

// Store is the persistence interface used by intake and the pipeline.
type Store interface {
	// PutTranscreation stores or replaces a transcreation record with its
	// transcript.
	PutTranscreation(ctx context.Context, tc *types.Transcreation) error

	// GetTranscreation returns the record with its transcript ordered by
	// segment start, or types.ErrNotFound.
	GetTranscreation(ctx context.Context, id string) (*types.Transcreation, error)

	// UpsertStatus writes the single status row for a transcreation.
	// A completed row is final: later writes, including failures, are
	// dropped, so re-marking a finished job is always safe.
	UpsertStatus(ctx context.Context, status types.JobStatus) error

	// GetStatus returns the status row, or types.ErrNotFound.
	GetStatus(ctx context.Context, transcreationID string) (*types.JobStatus, error)

	// Close releases the store's resources.
	Close() error
}

// allowStatusWrite decides whether incoming may replace current. current is
// nil when no row exists yet.
func allowStatusWrite(current *types.JobStatus, incoming types.JobStatus) bool {
	if current == nil || current.State != types.StateCompleted {
		return true
	}
	if incoming.State == types.StateFailed {
		logger.Warn("Ignoring failure write for already completed transcreation",
			"transcreation_id", incoming.TranscreationID, "reason", incoming.FailureReason)
	}
	return false
}
