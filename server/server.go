// Package server exposes the DubKit HTTP surface: job intake, status
// fetch, status streams (SSE and WebSocket), inline transcreation
// submission, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AltairaLabs/DubKit/intake"
	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/queue"
	"github.com/AltairaLabs/DubKit/status"
	"github.com/AltairaLabs/DubKit/telemetry"
	"github.com/AltairaLabs/DubKit/types"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	// maxBodyBytes bounds intake request bodies.
	maxBodyBytes = 8 << 20
)

// Server serves the DubKit HTTP API.
type Server struct {
	intake    *intake.Service
	runtime   *queue.Runtime
	publisher *status.Publisher
	metrics   http.Handler

	httpServer *http.Server
}

// New assembles the server. metricsHandler may be nil to disable /metrics.
func New(addr string, svc *intake.Service, runtime *queue.Runtime,
	publisher *status.Publisher, metricsHandler http.Handler) *Server {
	s := &Server{
		intake:    svc,
		runtime:   runtime,
		publisher: publisher,
		metrics:   metricsHandler,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(telemetry.TraceMiddleware(s.routes()), "dubkit.http"),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", s.handleSubmit)
	mux.HandleFunc("GET /jobs/{jobId}", s.handleGet)
	mux.HandleFunc("GET /jobs/{jobId}/events", s.handleEvents)
	mux.HandleFunc("GET /jobs/{jobId}/ws", s.handleWS)
	mux.HandleFunc("POST /transcreations", s.handleSubmitInline)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Handler returns the server's root handler (primarily for tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. It blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type submitRequest struct {
	TranscreationID string `json:"transcreationId"`
}

type submitResponse struct {
	JobID           string `json:"jobId"`
	TranscreationID string `json:"transcreationId,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TranscreationID == "" {
		writeError(w, http.StatusBadRequest, "transcreationId is required")
		return
	}

	jobID, err := s.intake.Submit(r.Context(), req.TranscreationID)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			writeError(w, http.StatusNotFound, "transcreation not found")
		case errors.Is(err, types.ErrPreconditionFailed):
			writeError(w, http.StatusBadRequest, "transcreation has no original audio")
		default:
			logger.Error("Job submission failed", "transcreation_id", req.TranscreationID, "error", err)
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{JobID: jobID})
}

func (s *Server) handleSubmitInline(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	jobID, tcID, err := s.intake.SubmitInline(r.Context(), body)
	if err != nil {
		var verrs intake.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeError(w, http.StatusBadRequest, verrs.Error())
		case errors.Is(err, types.ErrPreconditionFailed):
			writeError(w, http.StatusBadRequest, "transcreation has no original audio")
		default:
			logger.Error("Inline submission failed", "error", err)
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{JobID: jobID, TranscreationID: tcID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	snap, err := s.runtime.Get(jobID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "status read failed")
		return
	}
	writeJSON(w, http.StatusOK, status.NewMessage(snap, time.Now()))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.publisher.ServeSSE(w, r, r.PathValue("jobId"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.publisher.ServeWS(w, r, r.PathValue("jobId"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}
