package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/DubKit/types"
)

func TestXTTSVendor_Synthesize_RawAudio(t *testing.T) {
	var got xttsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tts", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFdata"))
	}))
	defer server.Close()

	vendor := NewXTTS(server.URL, "secret")
	audio, err := vendor.Synthesize(context.Background(), Request{
		Text:     "hola mundo",
		Language: "es",
		Speaker:  "ana",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFdata"), audio)
	assert.Equal(t, "hola mundo", got.Text)
	assert.Equal(t, "es", got.Language)
	assert.Equal(t, "ana", got.DefaultVoiceName)
	assert.Equal(t, "wav", got.Format)
	assert.Empty(t, got.SpeakerWav)
}

func TestXTTSVendor_Synthesize_CloneSendsBase64(t *testing.T) {
	reference := []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x01}

	var got xttsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("audio"))
	}))
	defer server.Close()

	vendor := NewXTTS(server.URL, "")
	_, err := vendor.Synthesize(context.Background(), Request{
		Text:           "bonjour",
		Speaker:        "ignored-when-cloning",
		ReferenceAudio: reference,
	})
	require.NoError(t, err)

	assert.Equal(t, base64.StdEncoding.EncodeToString(reference), got.SpeakerWav)
	assert.Empty(t, got.DefaultVoiceName)
}

func TestXTTSVendor_Synthesize_EmptyText(t *testing.T) {
	vendor := NewXTTS("http://unused", "")
	_, err := vendor.Synthesize(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestXTTSVendor_Synthesize_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		headers    map[string]string
		retryable  bool
		retryAfter time.Duration
	}{
		{name: "server error", status: http.StatusInternalServerError, retryable: true},
		{name: "proxy timeout", status: statusCloudflareTimeout, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, retryable: false},
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "7"},
			retryable:  true,
			retryAfter: 7 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("synthesis backend unhappy"))
			}))
			defer server.Close()

			vendor := NewXTTS(server.URL, "")
			_, err := vendor.Synthesize(context.Background(), Request{Text: "hi", SegmentIndex: 3})
			require.Error(t, err)

			var synthErr *SynthesisError
			require.ErrorAs(t, err, &synthErr)
			assert.Equal(t, tt.status, synthErr.StatusCode)
			assert.Equal(t, 3, synthErr.RequestIndex)
			assert.Equal(t, tt.retryable, synthErr.Temporary())
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			assert.Equal(t, tt.retryAfter, synthErr.RetryAfter)
		})
	}
}

func TestXTTSVendor_Synthesize_JSONEnvelope(t *testing.T) {
	audio := []byte("synthesized audio bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"audio": base64.StdEncoding.EncodeToString(audio),
		})
	}))
	defer server.Close()

	vendor := NewXTTS(server.URL, "")
	got, err := vendor.Synthesize(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestToBytes(t *testing.T) {
	audio := []byte("pcm frames")
	encoded := base64.StdEncoding.EncodeToString(audio)

	tests := []struct {
		name        string
		raw         []byte
		contentType string
		want        []byte
		wantErr     bool
	}{
		{name: "raw audio", raw: audio, contentType: "audio/wav", want: audio},
		{name: "json audio field", raw: []byte(`{"audio":"` + encoded + `"}`), want: audio},
		{name: "json audio_base64 field", raw: []byte(`{"audio_base64":"` + encoded + `"}`), want: audio},
		{name: "data url", raw: []byte("data:audio/wav;base64," + encoded), want: audio},
		{name: "empty body", raw: nil, wantErr: true},
		{name: "json without audio", raw: []byte(`{"detail":"ok"}`), wantErr: true},
		{name: "data url without base64", raw: []byte("data:audio/wav,raw"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toBytes(tt.raw, tt.contentType)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 12*time.Second, parseRetryAfter("12"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}

func TestSynthesisError_Error(t *testing.T) {
	err := NewSynthesisError("xtts", 0, 503, "unavailable", errors.New("boom"), true)
	assert.Contains(t, err.Error(), "xtts")
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, "TTSFailed", err.Reason())
}
