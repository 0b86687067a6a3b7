package intake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/DubKit/jobstore"
	"github.com/AltairaLabs/DubKit/types"
)

type fakeSubmitter struct {
	submitted []*types.JobEnvelope
	err       error
}

func (f *fakeSubmitter) Submit(_ context.Context, env *types.JobEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, env)
	return nil
}

func setupService(t *testing.T) (*Service, jobstore.Store, *fakeSubmitter) {
	t.Helper()
	store := jobstore.NewMemoryStore()
	submitter := &fakeSubmitter{}
	svc := NewService(store, submitter, nil)
	svc.newID = func() string { return "job-fixed" }
	return svc, store, submitter
}

func storedTranscreation() *types.Transcreation {
	return &types.Transcreation{
		ID:               "tc-1",
		OriginalAudioURL: "https://cdn.example.com/original.wav",
		ToLanguage:       "es-MX",
		Plan:             "pro",
		Segments: []types.TranscriptSegment{
			{StartMs: 0, EndMs: 1500, Text: "Hola a todos", Speaker: "host", Voice: types.VoiceClone},
			{StartMs: 1600, EndMs: 3000, Text: "Bienvenidos", Speaker: "guest",
				Emotion: map[string]float64{"happy": 0.8}},
		},
	}
}

func TestService_Submit(t *testing.T) {
	svc, store, submitter := setupService(t)
	ctx := context.Background()
	require.NoError(t, store.PutTranscreation(ctx, storedTranscreation()))

	jobID, err := svc.Submit(ctx, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, "job-fixed", jobID)

	require.Len(t, submitter.submitted, 1)
	env := submitter.submitted[0]
	assert.Equal(t, "tc-1", env.TranscreationID)
	assert.Equal(t, "es-MX", env.TargetLanguage)
	assert.Equal(t, 2, env.Priority) // pro

	require.Len(t, env.TTSRequests, 2)
	assert.Equal(t, 0, env.TTSRequests[0].SegmentIndex)
	assert.Equal(t, "Hola a todos", env.TTSRequests[0].Text)
	assert.Equal(t, types.VoiceClone, env.TTSRequests[0].Voice)
	assert.Equal(t, "es-MX", env.TTSRequests[0].Language)
	assert.Equal(t, "wav", env.TTSRequests[0].Format)
	assert.Equal(t, map[string]float64{"happy": 0.8}, env.TTSRequests[1].Emotion)

	status, err := store.GetStatus(ctx, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateProcessing, status.State)
}

func TestService_Submit_DefaultsLanguage(t *testing.T) {
	svc, store, submitter := setupService(t)
	ctx := context.Background()
	tc := storedTranscreation()
	tc.ToLanguage = ""
	require.NoError(t, store.PutTranscreation(ctx, tc))

	_, err := svc.Submit(ctx, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultLanguage, submitter.submitted[0].TargetLanguage)
}

func TestService_Submit_UnknownTranscreation(t *testing.T) {
	svc, _, _ := setupService(t)
	_, err := svc.Submit(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestService_Submit_MissingAudio(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	tc := storedTranscreation()
	tc.OriginalAudioURL = ""
	require.NoError(t, store.PutTranscreation(ctx, tc))

	_, err := svc.Submit(ctx, "tc-1")
	assert.ErrorIs(t, err, types.ErrPreconditionFailed)
}

func TestService_Submit_UnknownPlanQueuesLast(t *testing.T) {
	svc, store, submitter := setupService(t)
	ctx := context.Background()
	tc := storedTranscreation()
	tc.Plan = "legacy"
	require.NoError(t, store.PutTranscreation(ctx, tc))

	_, err := svc.Submit(ctx, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, 5, submitter.submitted[0].Priority)
}

func TestService_SubmitInline(t *testing.T) {
	svc, store, submitter := setupService(t)
	ctx := context.Background()

	doc := []byte(`{
		"original_audio_url": "https://cdn.example.com/original.wav",
		"to_language": "fr-FR",
		"segments": [
			{"start_ms": 0, "end_ms": 2000, "text": "Bonjour", "speaker": "host"}
		]
	}`)

	jobID, tcID, err := svc.SubmitInline(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "job-fixed", jobID)
	assert.NotEmpty(t, tcID)

	stored, err := store.GetTranscreation(ctx, tcID)
	require.NoError(t, err)
	assert.Equal(t, "fr-FR", stored.ToLanguage)
	require.Len(t, submitter.submitted, 1)
	assert.Equal(t, tcID, submitter.submitted[0].TranscreationID)
}

func TestService_SubmitInline_RejectsInvalid(t *testing.T) {
	svc, _, submitter := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		doc  string
	}{
		{"empty segments", `{"original_audio_url": "x", "segments": []}`},
		{"missing audio", `{"segments": [{"start_ms": 0, "end_ms": 1, "text": "hi"}]}`},
		{"empty text", `{"original_audio_url": "x", "segments": [{"start_ms": 0, "end_ms": 1, "text": ""}]}`},
		{"inverted times", `{"original_audio_url": "x", "segments": [{"start_ms": 500, "end_ms": 100, "text": "hi"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.SubmitInline(ctx, []byte(tt.doc))
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs, "document should fail validation")
			assert.NotEmpty(t, verrs)
		})
	}
	assert.Empty(t, submitter.submitted)
}
