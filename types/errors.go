package types

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for intake-level failures and cancellation.
var (
	// ErrNotFound indicates the referenced transcreation or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed indicates the transcreation cannot be processed
	// as stored, e.g. an empty original audio URL.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrCancelled indicates the job was cancelled before completion.
	ErrCancelled = errors.New("cancelled")
)

// Reasoner is implemented by error types that carry a short, stable,
// user-visible failure reason. FailureReason prefers it over the generic
// mapping.
type Reasoner interface {
	Reason() string
}

// ExternalToolError reports a failed external process invocation
// (transcoder, separator, helper script). StderrTail holds the final lines
// of the process stderr for diagnosis.
type ExternalToolError struct {
	Component  string // "transcoder", "separator", ...
	StderrTail string
	Err        error
}

func (e *ExternalToolError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Component, e.Err, e.StderrTail)
	}
	return fmt.Sprintf("%s failed: %v", e.Component, e.Err)
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// Reason returns the stable failure token for status records.
func (e *ExternalToolError) Reason() string {
	return "ExternalToolFailed: " + e.Component
}

// InvalidArtifactError reports a produced or expected file that is missing,
// not a regular file, or empty.
type InvalidArtifactError struct {
	Path string
	Why  string
}

func (e *InvalidArtifactError) Error() string {
	return fmt.Sprintf("invalid artifact %s: %s", e.Path, e.Why)
}

// Reason returns the stable failure token for status records.
func (e *InvalidArtifactError) Reason() string { return "InvalidArtifact" }

// UploadError reports a failed blob store upload.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Reason returns the stable failure token for status records.
func (e *UploadError) Reason() string { return "UploadFailed" }

// TimeoutError reports an external call that exceeded its deadline.
type TimeoutError struct {
	Component string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Component, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Reason returns the stable failure token for status records.
func (e *TimeoutError) Reason() string {
	return "Timeout: " + e.Component
}

// Temporary is implemented by errors whose operation may succeed if retried.
// The queue runtime uses it to decide between another attempt and immediate
// failure.
type Temporary interface {
	Temporary() bool
}

// Temporary reports that external tool failures are worth retrying: the
// usual causes (resource pressure, transient I/O) clear between attempts.
func (e *ExternalToolError) Temporary() bool { return true }

// Temporary reports that timed-out external calls are worth retrying.
func (e *TimeoutError) Temporary() bool { return true }

// Temporary reports that failed uploads are worth retrying.
func (e *UploadError) Temporary() bool { return true }

// IsRetryable reports whether err is worth another attempt. Cancellation is
// never retryable; typed errors decide through Temporary; everything else
// defaults to terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	var t Temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// FailureReason maps any pipeline error to the short stable string persisted
// as JobStatus.FailureReason. Never includes stack traces or wrapped chains.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var r Reasoner
	if errors.As(err, &r) {
		return r.Reason()
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "Cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrPreconditionFailed):
		return "PreconditionFailed"
	}
	return "InternalError"
}
