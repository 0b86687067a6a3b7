package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTitle_FirstFiveTokens(t *testing.T) {
	segments := []TranscriptSegment{
		{StartMs: 0, EndMs: 1000, Text: "one two three four five six seven"},
		{StartMs: 1000, EndMs: 2000, Text: "later segment"},
	}
	assert.Equal(t, "one two three four five", Title(segments))
}

func TestTitle_ShortText(t *testing.T) {
	segments := []TranscriptSegment{
		{StartMs: 0, EndMs: 1000, Text: "hola"},
	}
	assert.Equal(t, "hola", Title(segments))
}

func TestTitle_Empty(t *testing.T) {
	assert.Equal(t, "", Title(nil))
	assert.Equal(t, "", Title([]TranscriptSegment{}))
}

func TestJobEnvelope_DataExcludesTranscript(t *testing.T) {
	env := &JobEnvelope{
		JobID:            "job-1",
		TranscreationID:  "tc-1",
		OriginalAudioURL: "file:///audio.mp3",
		TargetLanguage:   "es-ES",
		Priority:         2,
		Segments: []TranscriptSegment{
			{StartMs: 0, EndMs: 1000, Text: "Hola"},
			{StartMs: 1000, EndMs: 2500, Text: "¿Cómo estás?"},
		},
		EnqueuedAt: time.Now(),
	}

	data := env.Data()
	assert.Equal(t, "tc-1", data.TranscreationID)
	assert.Equal(t, 2, data.SegmentCount)
	assert.Equal(t, 2, data.Priority)
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateProcessing.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestTranscreation_Speakers(t *testing.T) {
	tc := &Transcreation{
		Segments: []TranscriptSegment{
			{Speaker: "s1"},
			{Speaker: "s2"},
			{Speaker: "s1"},
		},
	}
	assert.Equal(t, []string{"s1", "s2"}, tc.Speakers())
}

func TestTranscriptSegment_WantsClone(t *testing.T) {
	assert.True(t, TranscriptSegment{Voice: VoiceClone}.WantsClone())
	assert.False(t, TranscriptSegment{Voice: "vA"}.WantsClone())
	assert.False(t, TranscriptSegment{}.WantsClone())
}
