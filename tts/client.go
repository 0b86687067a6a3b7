package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/types"
)

// Client defaults.
const (
	DefaultMaxConcurrency = 5
	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = 1 * time.Second
	DefaultChunkSize      = 8

	backoffFactor = 2

	// Component is the error-taxonomy component name for synthesis timeouts.
	Component = "tts"
)

// ClientConfig configures the synthesis client.
type ClientConfig struct {
	// MaxConcurrency bounds in-flight vendor calls. Default 5. Waiters are
	// served FIFO by the semaphore.
	MaxConcurrency int

	// Timeout is the wall-clock budget per attempt. Default 20 minutes.
	Timeout time.Duration

	// MaxAttempts bounds retries of retryable failures. Default 3.
	MaxAttempts int

	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration

	// DefaultVoice is the catalog voice used when a request carries no voice
	// or a cloning request has no reference.
	DefaultVoice string

	// ChunkSize is how many requests one batch chunk holds. Default 8.
	ChunkSize int

	// RequestsPerSecond optionally rate-limits vendor calls. Zero disables.
	RequestsPerSecond float64
}

// Client schedules synthesis requests against a vendor with bounded
// concurrency, retries, and voice-selection policy.
type Client struct {
	vendor  Vendor
	config  ClientConfig
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	// sleep is swapped by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client around the given vendor, filling config
// defaults for zero values.
func NewClient(vendor Vendor, config ClientConfig) *Client {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultXTTSTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Client{
		vendor:  vendor,
		config:  config,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrency)),
		limiter: limiter,
		sleep:   sleepCtx,
	}
}

// ResolveVoice maps a request's voice selector to a concrete choice. A
// cloning request without a reference downgrades to the default voice: a
// missing or unreadable reference alone never fails the segment.
func (c *Client) ResolveVoice(req types.TTSRequest) types.VoiceChoice {
	switch {
	case req.Voice == types.VoiceClone && req.ReferencePath != "":
		return types.CloneVoice(req.ReferencePath)
	case req.Voice == types.VoiceClone:
		return types.DefaultFallbackVoice("no reference clip for speaker")
	case req.Voice == "":
		return types.CatalogVoice(c.config.DefaultVoice)
	default:
		return types.CatalogVoice(req.Voice)
	}
}

// Synthesize runs one request to completion and writes the audio to outPath.
// The concurrency token is held for the whole call including retries, so at
// most MaxConcurrency vendor calls are ever in flight.
func (c *Client) Synthesize(ctx context.Context, req types.TTSRequest, targetLanguage, outPath string) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	vendorReq, err := c.buildVendorRequest(req, targetLanguage)
	if err != nil {
		return err
	}

	audio, err := c.synthesizeWithRetry(ctx, vendorReq)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outPath, audio, 0o600); err != nil {
		return fmt.Errorf("failed to write synthesized audio: %w", err)
	}
	return nil
}

// buildVendorRequest resolves voice, language and emotion policy into a
// concrete vendor call.
func (c *Client) buildVendorRequest(req types.TTSRequest, targetLanguage string) (Request, error) {
	language := req.Language
	if language == "" {
		language = targetLanguage
	}
	emotion := req.Emotion
	if len(emotion) == 0 {
		emotion = types.DefaultEmotion()
	}

	vendorReq := Request{
		Text:         req.Text,
		Language:     language,
		Emotion:      emotion,
		Format:       req.Format,
		SegmentIndex: req.SegmentIndex,
	}

	choice := c.ResolveVoice(req)
	switch choice.Kind {
	case types.VoiceKindClone:
		reference, err := os.ReadFile(choice.ReferencePath)
		if err != nil {
			// An unreadable reference downgrades the same way a missing one
			// does; the segment still gets synthesized.
			logger.Warn("Downgrading cloning request to default voice",
				"segment_index", req.SegmentIndex,
				"reason", "reference clip unreadable",
				"error", err,
				"voice", c.config.DefaultVoice,
			)
			vendorReq.Speaker = c.config.DefaultVoice
		} else {
			vendorReq.ReferenceAudio = reference
		}
	case types.VoiceKindDefaultFallback:
		logger.Warn("Downgrading cloning request to default voice",
			"segment_index", req.SegmentIndex,
			"reason", choice.FallbackReason,
			"voice", c.config.DefaultVoice,
		)
		vendorReq.Speaker = c.config.DefaultVoice
	case types.VoiceKindCatalog:
		vendorReq.Speaker = choice.CatalogID
	}
	return vendorReq, nil
}

// synthesizeWithRetry runs the vendor call with per-attempt deadline and
// exponential backoff on retryable failures.
func (c *Client) synthesizeWithRetry(ctx context.Context, req Request) ([]byte, error) {
	voiceKind := "catalog"
	if len(req.ReferenceAudio) > 0 {
		voiceKind = "clone"
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		logger.TTSCall(c.vendor.Name(), req.SegmentIndex, voiceKind, req.Language, "attempt", attempt)

		start := time.Now()
		audio, err := c.attempt(ctx, req)
		if err == nil {
			logger.TTSResponse(c.vendor.Name(), req.SegmentIndex, len(audio), time.Since(start).Milliseconds())
			return audio, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !types.IsRetryable(err) {
			logger.TTSError(c.vendor.Name(), req.SegmentIndex, err, "terminal", true)
			return nil, err
		}
		if attempt == c.config.MaxAttempts {
			break
		}

		delay := c.backoffDelay(attempt, err)
		logger.Warn("Retrying synthesis request",
			"segment_index", req.SegmentIndex, "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	logger.TTSError(c.vendor.Name(), req.SegmentIndex, lastErr, "attempts", c.config.MaxAttempts)
	return nil, lastErr
}

// attempt runs one vendor call under the per-attempt deadline, mapping a
// deadline overrun to the retryable timeout kind.
func (c *Client) attempt(ctx context.Context, req Request) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	audio, err := c.vendor.Synthesize(attemptCtx, req)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, &types.TimeoutError{Component: Component, Err: attemptCtx.Err()}
	}
	return audio, err
}

// backoffDelay computes the next retry delay: exponential from BackoffBase,
// raised to any server Retry-After hint.
func (c *Client) backoffDelay(attempt int, err error) time.Duration {
	delay := c.config.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= backoffFactor
	}

	var synthErr *SynthesisError
	if errors.As(err, &synthErr) && synthErr.RetryAfter > delay {
		delay = synthErr.RetryAfter
	}
	return delay
}

// Batch synthesizes the requests in order, writing each result to
// outPathFor(i) and returning the paths in request order. Requests are
// processed in fixed-size chunks; each chunk completes before the next
// starts, and onChunk (when non-nil) reports chunk completion for progress.
// The first terminal failure aborts the whole batch.
func (c *Client) Batch(
	ctx context.Context,
	requests []types.TTSRequest,
	targetLanguage string,
	outPathFor func(i int) string,
	onChunk func(done, total int),
) ([]string, error) {
	paths := make([]string, len(requests))
	if len(requests) == 0 {
		return paths, nil
	}

	total := (len(requests) + c.config.ChunkSize - 1) / c.config.ChunkSize
	for chunk := 0; chunk < total; chunk++ {
		lo := chunk * c.config.ChunkSize
		hi := lo + c.config.ChunkSize
		if hi > len(requests) {
			hi = len(requests)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for i := lo; i < hi; i++ {
			group.Go(func() error {
				out := outPathFor(i)
				if err := c.Synthesize(groupCtx, requests[i], targetLanguage, out); err != nil {
					return err
				}
				paths[i] = out
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		if onChunk != nil {
			onChunk(chunk+1, total)
		}
	}
	return paths, nil
}

// sleepCtx sleeps for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
