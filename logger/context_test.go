package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	ctx = WithJobID(ctx, "job-7")
	ctx = WithTranscreationID(ctx, "tc-42")
	ctx = WithStage(ctx, "synthesize")
	ctx = WithComponent(ctx, "tts")
	ctx = WithSpeaker(ctx, "SPEAKER_01")
	ctx = WithRequestID(ctx, "req-9")
	ctx = WithWorker(ctx, "worker-1")
	ctx = WithEnvironment(ctx, "staging")

	fields := ExtractLoggingFields(ctx)
	if fields.JobID != "job-7" {
		t.Errorf("JobID = %q, want job-7", fields.JobID)
	}
	if fields.TranscreationID != "tc-42" {
		t.Errorf("TranscreationID = %q, want tc-42", fields.TranscreationID)
	}
	if fields.Stage != "synthesize" {
		t.Errorf("Stage = %q, want synthesize", fields.Stage)
	}
	if fields.Component != "tts" {
		t.Errorf("Component = %q, want tts", fields.Component)
	}
	if fields.Speaker != "SPEAKER_01" {
		t.Errorf("Speaker = %q, want SPEAKER_01", fields.Speaker)
	}
	if fields.RequestID != "req-9" {
		t.Errorf("RequestID = %q, want req-9", fields.RequestID)
	}
	if fields.Worker != "worker-1" {
		t.Errorf("Worker = %q, want worker-1", fields.Worker)
	}
	if fields.Environment != "staging" {
		t.Errorf("Environment = %q, want staging", fields.Environment)
	}
}

func TestExtractLoggingFields_Empty(t *testing.T) {
	fields := ExtractLoggingFields(context.Background())
	if fields != (LoggingFields{}) {
		t.Errorf("expected zero fields, got %+v", fields)
	}
}

func TestWithLoggingContext(t *testing.T) {
	ctx := WithLoggingContext(context.Background(), &LoggingFields{
		JobID:           "job-1",
		TranscreationID: "tc-1",
		Stage:           "combine",
	})

	fields := ExtractLoggingFields(ctx)
	if fields.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", fields.JobID)
	}
	if fields.TranscreationID != "tc-1" {
		t.Errorf("TranscreationID = %q, want tc-1", fields.TranscreationID)
	}
	if fields.Stage != "combine" {
		t.Errorf("Stage = %q, want combine", fields.Stage)
	}
	if fields.Speaker != "" {
		t.Errorf("unset Speaker should stay empty, got %q", fields.Speaker)
	}
}

func TestWithLoggingContext_Nil(t *testing.T) {
	ctx := context.Background()
	if got := WithLoggingContext(ctx, nil); got != ctx {
		t.Error("nil fields should return the same context")
	}
}

func TestContextHandler_InjectsFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewContextHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log := slog.New(handler)

	ctx := WithJobID(context.Background(), "job-ctx")
	ctx = WithComponent(ctx, "mixdown")

	log.InfoContext(ctx, "mixing")

	out := buf.String()
	if !strings.Contains(out, `"job_id":"job-ctx"`) {
		t.Errorf("job_id missing from record: %s", out)
	}
	if !strings.Contains(out, `"component":"mixdown"`) {
		t.Errorf("component missing from record: %s", out)
	}
}

func TestContextHandler_CommonFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewContextHandler(
		slog.NewJSONHandler(&buf, nil),
		slog.String("service", "dubkit"),
	)
	log := slog.New(handler)

	log.InfoContext(context.Background(), "plain")

	if !strings.Contains(buf.String(), `"service":"dubkit"`) {
		t.Errorf("common field missing from record: %s", buf.String())
	}
}

func TestContextHandler_NoFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewContextHandler(slog.NewJSONHandler(&buf, nil))
	log := slog.New(handler)

	log.InfoContext(context.Background(), "plain")

	out := buf.String()
	if strings.Contains(out, "job_id") {
		t.Errorf("unexpected context field in record: %s", out)
	}
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := NewContextHandler(base)

	withAttrs := handler.WithAttrs([]slog.Attr{slog.String("static", "yes")})
	if _, ok := withAttrs.(*ContextHandler); !ok {
		t.Error("WithAttrs should return a ContextHandler")
	}

	withGroup := handler.WithGroup("grp")
	if _, ok := withGroup.(*ContextHandler); !ok {
		t.Error("WithGroup should return a ContextHandler")
	}

	if handler.Unwrap() != base {
		t.Error("Unwrap should return the inner handler")
	}
}
