package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/AltairaLabs/DubKit/logger"
)

// Vendor speaks one synthesis provider's API and returns raw audio bytes.
type Vendor interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// Synthesize converts one request to audio bytes.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Request is one vendor synthesis call. Exactly one of Speaker and
// ReferenceAudio is set: catalog voices go by name, cloning attaches the
// reference clip bytes.
type Request struct {
	Text           string
	Language       string
	Speaker        string
	ReferenceAudio []byte
	Emotion        map[string]float64
	Format         string

	// SegmentIndex is carried into errors for per-segment diagnostics.
	SegmentIndex int
}

// XTTS API defaults.
const (
	defaultXTTSTimeout = 20 * time.Minute

	// statusCloudflareTimeout is the 524 a fronting proxy returns when the
	// synthesis backend takes too long; treated like a 5xx.
	statusCloudflareTimeout = 524

	serverErrorThreshold = 500

	defaultFormat = "wav"
)

// XTTSVendor implements Vendor against an XTTS-compatible HTTP API: a single
// POST endpoint taking text, language, a catalog speaker name or base64
// reference audio, and optional emotion weights.
type XTTSVendor struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// XTTSOption configures the XTTS vendor.
type XTTSOption func(*XTTSVendor)

// WithXTTSClient sets a custom HTTP client.
func WithXTTSClient(client *http.Client) XTTSOption {
	return func(v *XTTSVendor) {
		v.client = client
	}
}

// NewXTTS creates an XTTS vendor client for the given endpoint.
func NewXTTS(baseURL, apiKey string, opts ...XTTSOption) *XTTSVendor {
	v := &XTTSVendor{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultXTTSTimeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name returns the provider identifier.
func (v *XTTSVendor) Name() string { return "xtts" }

// xttsRequest is the JSON request body.
type xttsRequest struct {
	Text             string             `json:"text"`
	Language         string             `json:"language,omitempty"`
	DefaultVoiceName string             `json:"default_voice_name,omitempty"`
	SpeakerWav       string             `json:"speaker_wav,omitempty"` // base64 reference audio
	Emotion          map[string]float64 `json:"emotion,omitempty"`
	Format           string             `json:"format,omitempty"`
}

// Synthesize converts text to audio via the vendor API.
func (v *XTTSVendor) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	body := xttsRequest{
		Text:             req.Text,
		Language:         req.Language,
		DefaultVoiceName: req.Speaker,
		Emotion:          req.Emotion,
		Format:           req.Format,
	}
	if body.Format == "" {
		body.Format = defaultFormat
	}
	if len(req.ReferenceAudio) > 0 {
		body.SpeakerWav = base64.StdEncoding.EncodeToString(req.ReferenceAudio)
		body.DefaultVoiceName = ""
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := v.baseURL + "/tts"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav, application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("x-api-key", v.apiKey)
	}

	logger.APIRequest(v.Name(), http.MethodPost, endpoint, nil, nil)

	resp, err := v.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// Deadline or cancellation: the caller decides which.
			return nil, err
		}
		return nil, NewSynthesisError(v.Name(), req.SegmentIndex, 0, "request failed", err, true)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, v.handleError(resp, req.SegmentIndex)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewSynthesisError(v.Name(), req.SegmentIndex, 0, "failed to read response", err, true)
	}

	audio, err := toBytes(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, NewSynthesisError(v.Name(), req.SegmentIndex, resp.StatusCode, "unusable response body", err, false)
	}
	logger.APIResponse(v.Name(), resp.StatusCode, "", nil)
	return audio, nil
}

// handleError maps a non-200 response to a SynthesisError. Retryable: 5xx,
// the proxy 524, and 429 (carrying any Retry-After hint). Other 4xx are
// terminal for the segment.
func (v *XTTSVendor) handleError(resp *http.Response, segmentIndex int) error {
	tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := string(bytes.TrimSpace(tail))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	retryable := resp.StatusCode >= serverErrorThreshold ||
		resp.StatusCode == statusCloudflareTimeout ||
		resp.StatusCode == http.StatusTooManyRequests

	var cause error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusNotFound:
		cause = ErrInvalidVoice
	}

	synthErr := NewSynthesisError(v.Name(), segmentIndex, resp.StatusCode, message, cause, retryable)
	if resp.StatusCode == http.StatusTooManyRequests {
		synthErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return synthErr
}

// parseRetryAfter reads a Retry-After header in seconds form. HTTP-date form
// is rare on rate limits and is ignored rather than parsed.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// toBytes normalizes the vendor response body to raw audio bytes. Vendors
// of this API shape have shipped three body encodings over time: raw audio,
// a JSON envelope with a base64 audio field, and a data URL. Downstream
// code sees only the decoded bytes.
func toBytes(raw []byte, contentType string) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty response body")
	}

	trimmed := bytes.TrimSpace(raw)
	if isJSONContent(contentType, trimmed) {
		var envelope struct {
			Audio       string `json:"audio"`
			AudioBase64 string `json:"audio_base64"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("unparsable JSON body: %w", err)
		}
		encoded := envelope.Audio
		if encoded == "" {
			encoded = envelope.AudioBase64
		}
		if encoded == "" {
			return nil, errors.New("JSON body has no audio field")
		}
		return decodeBase64Audio(encoded)
	}

	if bytes.HasPrefix(trimmed, []byte("data:")) {
		if idx := bytes.Index(trimmed, []byte("base64,")); idx >= 0 {
			return decodeBase64Audio(string(trimmed[idx+len("base64,"):]))
		}
		return nil, errors.New("data URL without base64 payload")
	}

	return raw, nil
}

func isJSONContent(contentType string, body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if bytes.HasPrefix(body, []byte("{")) {
		return true
	}
	return contentType == "application/json"
}

func decodeBase64Audio(encoded string) ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("empty audio payload")
	}
	return audio, nil
}
