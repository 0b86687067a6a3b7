package status

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AltairaLabs/DubKit/types"
)

// heartbeatInterval is how often an SSE comment keeps idle connections from
// being reaped by proxies.
const heartbeatInterval = 15 * time.Second

// ServeSSE streams a job's status messages as Server-Sent Events until the
// stream closes or the client disconnects.
func (p *Publisher) ServeSSE(w http.ResponseWriter, r *http.Request, jobID string) {
	ch, cancel, err := p.Subscribe(jobID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case payload, open := <-ch:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
