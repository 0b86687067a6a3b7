package tts

import (
	"errors"
	"fmt"
	"time"
)

// Common synthesis errors.
var (
	// ErrEmptyText is returned when attempting to synthesize empty text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrRateLimited is returned when API rate limits are exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidVoice is returned when the requested voice is not available.
	ErrInvalidVoice = errors.New("invalid or unsupported voice")
)

// SynthesisError provides detailed error information from synthesis
// providers. It carries the originating segment index so a failed batch can
// name the exact transcript line.
type SynthesisError struct {
	// Provider is the synthesis provider that returned the error.
	Provider string

	// RequestIndex is the transcript segment index of the failed request,
	// or -1 when the failure is not tied to one segment.
	RequestIndex int

	// StatusCode is the upstream HTTP status, 0 for transport failures.
	StatusCode int

	// Message is the error message.
	Message string

	// Cause is the underlying error (if any).
	Cause error

	// Retryable indicates if the error is transient and retry may succeed.
	Retryable bool

	// RetryAfter is the server's requested backoff, zero when absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SynthesisError) Unwrap() error { return e.Cause }

// Temporary reports whether a retry may succeed.
func (e *SynthesisError) Temporary() bool { return e.Retryable }

// Reason returns the stable failure token for status records.
func (e *SynthesisError) Reason() string { return "TTSFailed" }

// NewSynthesisError creates a SynthesisError.
func NewSynthesisError(provider string, requestIndex, statusCode int, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{
		Provider:     provider,
		RequestIndex: requestIndex,
		StatusCode:   statusCode,
		Message:      message,
		Cause:        cause,
		Retryable:    retryable,
	}
}
