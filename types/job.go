package types

import "time"

// JobState is the user-visible lifecycle state of a dubbing job.
type JobState string

// Job lifecycle states. Transitions are monotonic except that a retry may
// move a job from failed-candidate back to StateProcessing.
const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

// Terminal reports whether the state is one of the two terminal states.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// TTSRequest is the internal synthesis request derived one-per-segment from
// the transcript, preserving transcript order via SegmentIndex.
type TTSRequest struct {
	SegmentIndex  int                `json:"segment_index"` // back-reference to the originating segment
	Text          string             `json:"text"`
	Voice         string             `json:"voice,omitempty"`    // catalog id or VoiceClone
	Language      string             `json:"language,omitempty"` // forwarded verbatim; job target language when empty
	ReferencePath string             `json:"-"`                  // local reference clip for cloning, filled per job
	Emotion       map[string]float64 `json:"emotion,omitempty"`
	Format        string             `json:"format,omitempty"` // output container, default "wav"
}

// JobEnvelope is the unit queued for execution: everything a worker needs to
// retarget one transcreation without further reads from the submitting side.
type JobEnvelope struct {
	JobID            string              `json:"job_id"`
	TranscreationID  string              `json:"transcreation_id"`
	OriginalAudioURL string              `json:"original_audio_url"`
	TargetLanguage   string              `json:"target_language"`
	OwnerEmail       string              `json:"owner_email,omitempty"`
	Priority         int                 `json:"priority"` // lower value runs sooner
	Segments         []TranscriptSegment `json:"segments"`
	TTSRequests      []TTSRequest        `json:"tts_requests"`
	EnqueuedAt       time.Time           `json:"enqueued_at"`
}

// Title returns the envelope's derived display title.
func (e *JobEnvelope) Title() string {
	return Title(e.Segments)
}

// JobData is the envelope minus its transcript, as exposed by status reads.
type JobData struct {
	TranscreationID  string    `json:"transcreation_id"`
	OriginalAudioURL string    `json:"original_audio_url"`
	TargetLanguage   string    `json:"target_language"`
	OwnerEmail       string    `json:"owner_email,omitempty"`
	Priority         int       `json:"priority"`
	SegmentCount     int       `json:"segment_count"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// Data strips the transcript from the envelope for status responses.
func (e *JobEnvelope) Data() JobData {
	return JobData{
		TranscreationID:  e.TranscreationID,
		OriginalAudioURL: e.OriginalAudioURL,
		TargetLanguage:   e.TargetLanguage,
		OwnerEmail:       e.OwnerEmail,
		Priority:         e.Priority,
		SegmentCount:     len(e.Segments),
		EnqueuedAt:       e.EnqueuedAt,
	}
}

// JobStatus is the persisted, single-row-per-transcreation status record
// written through the Job Store with upsert semantics.
type JobStatus struct {
	TranscreationID string    `json:"transcreation_id"`
	State           JobState  `json:"state"`
	FinalAudioURL   string    `json:"final_audio_url,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// Progress is one progress report emitted at stage boundaries and on TTS
// batch completion. Percent is an integer 0-100 and non-decreasing within a
// job.
type Progress struct {
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Percent    int    `json:"percent"`
	Label      string `json:"label"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// JobSnapshot is the point-in-time view of a job returned by the queue
// runtime's Get and pushed to status subscribers.
type JobSnapshot struct {
	JobID         string     `json:"job_id"`
	State         JobState   `json:"state"`
	Progress      int        `json:"progress"` // 0-100
	Title         string     `json:"title,omitempty"`
	Data          JobData    `json:"data"`
	Result        string     `json:"result,omitempty"` // final audio URL on completion
	FailureReason string     `json:"failure_reason,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Attempt       int        `json:"attempt,omitempty"`
}
