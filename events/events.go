// Package events provides the job event bus connecting the queue runtime to
// status subscribers.
//
// The runtime publishes one progress event per progress write and exactly one
// terminal event per job; the status publisher fans them out to streaming
// clients. The bus holds no references to publishers or jobs beyond listener
// functions, which keeps ownership acyclic.
package events

import (
	"time"

	"github.com/AltairaLabs/DubKit/types"
)

// Type identifies the kind of job event.
type Type string

// Job event types. Progress events repeat; the two terminal types are
// published exactly once per job.
const (
	TypeQueued    Type = "queued"
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
)

// Terminal reports whether the event type ends the job's event stream.
func (t Type) Terminal() bool {
	return t == TypeCompleted || t == TypeFailed
}

// Event is one job lifecycle notification.
type Event struct {
	JobID     string
	Type      Type
	Snapshot  types.JobSnapshot
	Timestamp time.Time
}
