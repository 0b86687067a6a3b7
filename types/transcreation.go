// Package types defines the canonical data model shared across the DubKit
// runtime: transcreations and their transcripts, queued job envelopes,
// synthesis requests, job status, and the error taxonomy surfaced to callers.
package types

import (
	"strings"
	"time"
)

// VoiceClone is the sentinel voice selector requesting voice cloning from a
// speaker reference clip instead of a vendor catalog voice.
const VoiceClone = "clone"

// Transcreation is the unit of work submitted by a user: one original audio
// track plus its time-aligned, translated, per-speaker transcript.
// Records are read-only to the runtime; only the derived JobStatus is written.
type Transcreation struct {
	ID               string              `json:"id"`
	OriginalAudioURL string              `json:"original_audio_url"`
	FromLanguage     string              `json:"from_language,omitempty"` // BCP 47 code of the source audio
	ToLanguage       string              `json:"to_language,omitempty"`   // BCP 47 code to synthesize
	Plan             string              `json:"plan,omitempty"`          // owner's plan name, mapped to a queue priority
	OwnerEmail       string              `json:"owner_email,omitempty"`
	Segments         []TranscriptSegment `json:"segments"` // ordered by StartMs
	CreatedAt        time.Time           `json:"created_at,omitempty"`
}

// TranscriptSegment is one timestamped utterance. Times are milliseconds from
// the start of the original track; StartMs <= EndMs. Input segments may
// overlap; the combiner resolves overlaps at mix time.
type TranscriptSegment struct {
	StartMs    int64              `json:"start_ms"`
	EndMs      int64              `json:"end_ms"`
	Text       string             `json:"text"`                  // translated text, non-empty
	SourceText string             `json:"source_text,omitempty"` // original-language text, informational
	Speaker    string             `json:"speaker,omitempty"`
	Emotion    map[string]float64 `json:"emotion,omitempty"` // weighted emotion map, optional
	Voice      string             `json:"voice,omitempty"`   // vendor voice id, or VoiceClone
}

// DurationMs returns the segment length in milliseconds.
func (s TranscriptSegment) DurationMs() int64 {
	return s.EndMs - s.StartMs
}

// WantsClone reports whether the segment requests voice cloning.
func (s TranscriptSegment) WantsClone() bool {
	return s.Voice == VoiceClone
}

// Speakers returns the distinct speaker tags in transcript order of first
// appearance. Segments without a speaker tag count under the empty tag.
func (t *Transcreation) Speakers() []string {
	seen := make(map[string]bool, 4)
	var out []string
	for _, seg := range t.Segments {
		if !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			out = append(out, seg.Speaker)
		}
	}
	return out
}

// Title derives the short human-readable job title: the first five
// space-separated tokens of the first segment's text, or "" when there are
// no segments.
func Title(segments []TranscriptSegment) string {
	if len(segments) == 0 {
		return ""
	}
	const titleTokens = 5
	fields := strings.Fields(segments[0].Text)
	if len(fields) > titleTokens {
		fields = fields[:titleTokens]
	}
	return strings.Join(fields, " ")
}

// DefaultEmotion returns the neutral emotion weights sent to the synthesizer
// when a segment carries none. The neutral weight stays at or below 1 and
// every other weight is non-negative.
func DefaultEmotion() map[string]float64 {
	return map[string]float64{"neutral": 1.0}
}
