package status

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/types"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The status stream is read-only public job state; cross-origin
	// dashboards are expected consumers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS streams a job's status messages over a WebSocket, mirroring the
// SSE stream message for message.
func (p *Publisher) ServeWS(w http.ResponseWriter, r *http.Request, jobID string) {
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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("WebSocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// how close frames and dead peers are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case payload, open := <-ch:
			if !open {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
