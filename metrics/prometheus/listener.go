package prometheus

import (
	"github.com/AltairaLabs/DubKit/events"
)

// Status constants for metric labels.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// MetricsListener records job lifecycle events as Prometheus metrics. It
// implements the events.Listener signature and is registered with the job
// event bus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	switch event.Type {
	case events.TypeQueued:
		RecordJobEnqueued(event.Snapshot.Data.Priority)
	case events.TypeCompleted:
		RecordJobCompleted(jobSeconds(event))
	case events.TypeFailed:
		RecordJobFailed(event.Snapshot.FailureReason, jobSeconds(event))
	case events.TypeProgress:
		// No metric: stage timing is recorded by the pipeline directly.
	}
}

// Listener returns an events.Listener function for bus registration.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}

// jobSeconds measures from enqueue to the event, the user-perceived job
// duration.
func jobSeconds(event *events.Event) float64 {
	if event.Snapshot.EnqueuedAt.IsZero() {
		return 0
	}
	return event.Timestamp.Sub(event.Snapshot.EnqueuedAt).Seconds()
}
