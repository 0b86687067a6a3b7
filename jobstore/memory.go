package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/DubKit/types"
)

// MemoryStore is an in-memory Store for tests and single-process
// development. Safe for concurrent use.
type MemoryStore struct {
	mu             sync.RWMutex
	transcreations map[string]*types.Transcreation
	statuses       map[string]types.JobStatus
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transcreations: make(map[string]*types.Transcreation),
		statuses:       make(map[string]types.JobStatus),
	}
}

// PutTranscreation stores a copy of the record.
func (s *MemoryStore) PutTranscreation(_ context.Context, tc *types.Transcreation) error {
	clone := *tc
	clone.Segments = make([]types.TranscriptSegment, len(tc.Segments))
	copy(clone.Segments, tc.Segments)

	s.mu.Lock()
	s.transcreations[tc.ID] = &clone
	s.mu.Unlock()
	return nil
}

// GetTranscreation returns a copy of the record.
func (s *MemoryStore) GetTranscreation(_ context.Context, id string) (*types.Transcreation, error) {
	s.mu.RLock()
	stored, ok := s.transcreations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, types.ErrNotFound
	}

	clone := *stored
	clone.Segments = make([]types.TranscriptSegment, len(stored.Segments))
	copy(clone.Segments, stored.Segments)
	return &clone, nil
}

// UpsertStatus writes the status row unless the existing row is completed.
func (s *MemoryStore) UpsertStatus(_ context.Context, status types.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *types.JobStatus
	if existing, ok := s.statuses[status.TranscreationID]; ok {
		current = &existing
	}
	if !allowStatusWrite(current, status) {
		return nil
	}

	status.UpdatedAt = time.Now().UTC()
	s.statuses[status.TranscreationID] = status
	return nil
}

// GetStatus returns the status row.
func (s *MemoryStore) GetStatus(_ context.Context, transcreationID string) (*types.JobStatus, error) {
	s.mu.RLock()
	status, ok := s.statuses[transcreationID]
	s.mu.RUnlock()
	if !ok {
		return nil, types.ErrNotFound
	}
	return &status, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
