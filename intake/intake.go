// Package intake turns stored transcreations into queued dubbing jobs.
//
// Submit reads the record from the job store, derives one synthesis request
// per transcript segment, marks the status row processing, and hands the
// envelope to the queue runtime with a plan-mapped priority. Inline
// submission additionally validates and stores a full transcreation document
// before submitting it.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/DubKit/jobstore"
	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/queue"
	"github.com/AltairaLabs/DubKit/types"
)

// DefaultLanguage is synthesized when the transcreation names no target
// language.
const DefaultLanguage = "en-US"

// Submitter is the queue side of intake, satisfied by *queue.Runtime.
type Submitter interface {
	Submit(ctx context.Context, env *types.JobEnvelope) error
}

// Service validates, persists, and enqueues transcreations.
type Service struct {
	store      jobstore.Store
	runtime    Submitter
	priorities queue.PriorityMap

	// newID is swapped by tests.
	newID func() string
	now   func() time.Time
}

// NewService creates an intake service. A nil priorities map falls back to
// the default plan ordering.
func NewService(store jobstore.Store, runtime Submitter, priorities queue.PriorityMap) *Service {
	if priorities == nil {
		priorities = queue.DefaultPlanPriorities()
	}
	return &Service{
		store:      store,
		runtime:    runtime,
		priorities: priorities,
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

// Submit enqueues a dubbing job for a stored transcreation and returns the
// new job id. Missing records return types.ErrNotFound; records without an
// original audio URL return types.ErrPreconditionFailed.
func (s *Service) Submit(ctx context.Context, transcreationID string) (string, error) {
	tc, err := s.store.GetTranscreation(ctx, transcreationID)
	if err != nil {
		return "", err
	}
	if tc.OriginalAudioURL == "" {
		return "", fmt.Errorf("transcreation %s has no original audio: %w",
			transcreationID, types.ErrPreconditionFailed)
	}

	language := tc.ToLanguage
	if language == "" {
		language = DefaultLanguage
	}

	env := &types.JobEnvelope{
		JobID:            s.newID(),
		TranscreationID:  tc.ID,
		OriginalAudioURL: tc.OriginalAudioURL,
		TargetLanguage:   language,
		OwnerEmail:       tc.OwnerEmail,
		Priority:         s.priorities.Priority(tc.Plan),
		Segments:         tc.Segments,
		TTSRequests:      buildTTSRequests(tc.Segments, language),
		EnqueuedAt:       s.now().UTC(),
	}

	if err := s.store.UpsertStatus(ctx, types.JobStatus{
		TranscreationID: tc.ID,
		State:           types.StateProcessing,
	}); err != nil {
		return "", fmt.Errorf("failed to mark transcreation processing: %w", err)
	}

	if err := s.runtime.Submit(ctx, env); err != nil {
		return "", err
	}

	logger.Info("Transcreation submitted",
		"transcreation_id", tc.ID, "job_id", env.JobID,
		"segments", len(tc.Segments), "priority", env.Priority)
	return env.JobID, nil
}

// SubmitInline validates a full transcreation document, stores it, and
// submits it in one call. Returns the job id and the transcreation id
// (generated when the document carries none). Validation failures return
// ValidationErrors.
func (s *Service) SubmitInline(ctx context.Context, raw []byte) (jobID, transcreationID string, err error) {
	if err := ValidateDocument(raw); err != nil {
		return "", "", err
	}

	var tc types.Transcreation
	if err := json.Unmarshal(raw, &tc); err != nil {
		return "", "", fmt.Errorf("failed to decode transcreation: %w", err)
	}
	if err := validateSegments(tc.Segments); err != nil {
		return "", "", err
	}

	if tc.ID == "" {
		tc.ID = s.newID()
	}
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = s.now().UTC()
	}

	if err := s.store.PutTranscreation(ctx, &tc); err != nil {
		return "", "", fmt.Errorf("failed to store transcreation: %w", err)
	}

	jobID, err = s.Submit(ctx, tc.ID)
	if err != nil {
		return "", "", err
	}
	return jobID, tc.ID, nil
}

// buildTTSRequests derives one synthesis request per transcript segment,
// preserving transcript order.
func buildTTSRequests(segments []types.TranscriptSegment, language string) []types.TTSRequest {
	requests := make([]types.TTSRequest, len(segments))
	for i, seg := range segments {
		requests[i] = types.TTSRequest{
			SegmentIndex: i,
			Text:         seg.Text,
			Voice:        seg.Voice,
			Language:     language,
			Emotion:      seg.Emotion,
			Format:       "wav",
		}
	}
	return requests
}
