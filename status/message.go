// Package status fans job lifecycle updates out to streaming subscribers
// over SSE and WebSocket.
//
// Each job gets its own broadcaster; subscribers get the current snapshot on
// subscribe and every event after it. Slow subscribers lose events rather
// than blocking the publisher. After a terminal event the stream lingers
// briefly so late messages drain, then closes.
package status

import (
	"time"

	"github.com/AltairaLabs/DubKit/types"
)

// Stage labels shown to users, derived from progress.
const (
	StageQueued     = "Queued"
	StageStarting   = "Starting"
	StageSpeech     = "Generating speech"
	StageSeparating = "Separating background"
	StageCombining  = "Combining"
	StageFinalizing = "Finalizing"
	StageComplete   = "Complete"
	StageFailed     = "Failed"
)

// Message is the JSON payload streamed to subscribers.
type Message struct {
	JobID                  string        `json:"jobId"`
	State                  types.JobState `json:"state"`
	Progress               int           `json:"progress"`
	ProcessingStage        string        `json:"processingStage"`
	EstimatedTimeRemaining int64         `json:"estimatedTimeRemaining"` // seconds, -1 when unknown
	Title                  string        `json:"title,omitempty"`
	Result                 string        `json:"result,omitempty"`
	Error                  string        `json:"error,omitempty"`
	Data                   types.JobData `json:"data"`
	Timestamp              time.Time     `json:"timestamp"`
}

// NewMessage builds the subscriber payload from a job snapshot.
func NewMessage(snap types.JobSnapshot, now time.Time) Message {
	return Message{
		JobID:                  snap.JobID,
		State:                  snap.State,
		Progress:               snap.Progress,
		ProcessingStage:        StageLabel(snap.State, snap.Progress),
		EstimatedTimeRemaining: EstimateRemaining(snap, now),
		Title:                  snap.Title,
		Result:                 snap.Result,
		Error:                  snap.FailureReason,
		Data:                   snap.Data,
		Timestamp:              now,
	}
}

// StageLabel maps state and progress to the user-visible processing stage.
func StageLabel(state types.JobState, progress int) string {
	switch {
	case state == types.StateFailed:
		return StageFailed
	case state == types.StateCompleted || progress >= 100:
		return StageComplete
	case state == types.StateQueued:
		return StageQueued
	case progress <= 0:
		return StageStarting
	case progress <= 20:
		return StageSpeech
	case progress <= 50:
		return StageSeparating
	case progress <= 80:
		return StageCombining
	default:
		return StageFinalizing
	}
}

// EstimateRemaining projects the remaining seconds from progress rate:
// elapsed scaled by the unfinished fraction. Returns -1 before any progress
// exists to project from, 0 once terminal.
func EstimateRemaining(snap types.JobSnapshot, now time.Time) int64 {
	if snap.State.Terminal() {
		return 0
	}
	if snap.StartedAt == nil || snap.Progress <= 0 {
		return -1
	}
	elapsed := now.Sub(*snap.StartedAt)
	if elapsed <= 0 {
		return -1
	}
	remaining := elapsed.Seconds() * float64(100-snap.Progress) / float64(snap.Progress)
	return int64(remaining)
}
