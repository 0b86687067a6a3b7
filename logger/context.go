// Package logger provides structured logging with automatic secret redaction.
package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeyJobID identifies the dubbing job being processed.
	ContextKeyJobID contextKey = "job_id"

	// ContextKeyTranscreationID identifies the transcreation record.
	ContextKeyTranscreationID contextKey = "transcreation_id"

	// ContextKeyStage identifies the pipeline stage (e.g., "separate", "synthesize").
	ContextKeyStage contextKey = "stage"

	// ContextKeyComponent identifies the external component ("transcoder", "separator", "tts").
	ContextKeyComponent contextKey = "component"

	// ContextKeySpeaker identifies the speaker tag a reference or request belongs to.
	ContextKeySpeaker contextKey = "speaker"

	// ContextKeyRequestID identifies the individual HTTP or vendor request.
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyWorker identifies the queue worker executing the job.
	ContextKeyWorker contextKey = "worker"

	// ContextKeyEnvironment identifies the deployment environment.
	ContextKeyEnvironment contextKey = "environment"
)

// allContextKeys lists all context keys that should be extracted for logging.
// This is used by the handler to iterate over all possible context values.
var allContextKeys = []contextKey{
	ContextKeyJobID,
	ContextKeyTranscreationID,
	ContextKeyStage,
	ContextKeyComponent,
	ContextKeySpeaker,
	ContextKeyRequestID,
	ContextKeyWorker,
	ContextKeyEnvironment,
}

// WithJobID returns a new context with the job ID set.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// WithTranscreationID returns a new context with the transcreation ID set.
func WithTranscreationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyTranscreationID, id)
}

// WithStage returns a new context with the pipeline stage set.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// WithComponent returns a new context with the external component name set.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ContextKeyComponent, component)
}

// WithSpeaker returns a new context with the speaker tag set.
func WithSpeaker(ctx context.Context, speaker string) context.Context {
	return context.WithValue(ctx, ContextKeySpeaker, speaker)
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithWorker returns a new context with the worker name set.
func WithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, ContextKeyWorker, worker)
}

// WithEnvironment returns a new context with the environment set.
func WithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, ContextKeyEnvironment, environment)
}

// LoggingFields holds all standard logging context fields.
// This struct is used with WithLoggingContext for bulk field setting.
type LoggingFields struct {
	JobID           string
	TranscreationID string
	Stage           string
	Component       string
	Speaker         string
	RequestID       string
	Worker          string
	Environment     string
}

// WithLoggingContext returns a new context with multiple logging fields set at once.
// Only non-empty values are set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.JobID != "" {
		ctx = WithJobID(ctx, fields.JobID)
	}
	if fields.TranscreationID != "" {
		ctx = WithTranscreationID(ctx, fields.TranscreationID)
	}
	if fields.Stage != "" {
		ctx = WithStage(ctx, fields.Stage)
	}
	if fields.Component != "" {
		ctx = WithComponent(ctx, fields.Component)
	}
	if fields.Speaker != "" {
		ctx = WithSpeaker(ctx, fields.Speaker)
	}
	if fields.RequestID != "" {
		ctx = WithRequestID(ctx, fields.RequestID)
	}
	if fields.Worker != "" {
		ctx = WithWorker(ctx, fields.Worker)
	}
	if fields.Environment != "" {
		ctx = WithEnvironment(ctx, fields.Environment)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
// Returns a LoggingFields struct with all values found in the context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	fields := LoggingFields{}
	if v := ctx.Value(ContextKeyJobID); v != nil {
		fields.JobID, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyTranscreationID); v != nil {
		fields.TranscreationID, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyStage); v != nil {
		fields.Stage, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyComponent); v != nil {
		fields.Component, _ = v.(string)
	}
	if v := ctx.Value(ContextKeySpeaker); v != nil {
		fields.Speaker, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyRequestID); v != nil {
		fields.RequestID, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyWorker); v != nil {
		fields.Worker, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyEnvironment); v != nil {
		fields.Environment, _ = v.(string)
	}
	return fields
}
