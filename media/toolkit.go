// Package media wraps the external transcoder (ffmpeg/ffprobe) behind a
// typed toolkit: probe, convert, trim, time-stretch, concatenate, filter,
// mix and loudness-normalize audio files.
//
// Every operation takes explicit absolute paths and a context; no implicit
// working directory is assumed. Tool failures surface as ExternalToolError
// with the tail of stderr attached, deadline overruns as TimeoutError.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/AltairaLabs/DubKit/types"
)

// Default configuration values.
const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
	DefaultToolTimeout = 5 * time.Minute
	DefaultSampleRate  = 44100
	DefaultChannels    = 2
	DefaultStretchMin  = 0.5
	DefaultStretchMax  = 2.0
)

// componentTranscoder names the external component in error taxonomy terms.
const componentTranscoder = "transcoder"

// Config configures the toolkit.
type Config struct {
	// FFmpegPath is the path to the ffmpeg binary. Default: "ffmpeg" (uses PATH).
	FFmpegPath string

	// FFprobePath is the path to the ffprobe binary. Default: "ffprobe".
	FFprobePath string

	// Timeout bounds each tool invocation. Default: 5 minutes.
	Timeout time.Duration

	// SampleRate is the PCM rate ToWav produces. Default: 44100.
	SampleRate int

	// Channels is the channel count ToWav produces. Default: 2.
	// All intermediates share one layout so they can be mixed in one pass.
	Channels int

	// StretchMin and StretchMax clamp the time-stretch ratio.
	StretchMin float64
	StretchMax float64
}

// DefaultConfig returns sensible defaults for the toolkit.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  DefaultFFmpegPath,
		FFprobePath: DefaultFFprobePath,
		Timeout:     DefaultToolTimeout,
		SampleRate:  DefaultSampleRate,
		Channels:    DefaultChannels,
		StretchMin:  DefaultStretchMin,
		StretchMax:  DefaultStretchMax,
	}
}

// Toolkit executes transcoder operations.
type Toolkit struct {
	config Config
}

// NewToolkit creates a toolkit with the given config, filling in defaults
// for zero values.
func NewToolkit(config Config) *Toolkit {
	if config.FFmpegPath == "" {
		config.FFmpegPath = DefaultFFmpegPath
	}
	if config.FFprobePath == "" {
		config.FFprobePath = DefaultFFprobePath
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultToolTimeout
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.Channels <= 0 {
		config.Channels = DefaultChannels
	}
	if config.StretchMin <= 0 {
		config.StretchMin = DefaultStretchMin
	}
	if config.StretchMax <= 0 {
		config.StretchMax = DefaultStretchMax
	}
	return &Toolkit{config: config}
}

// ToWav converts input to PCM signed 16-bit wav at the configured sample
// rate and channel count. Converting an already conforming wav yields an
// identical stream, so the operation is idempotent across calls.
func (t *Toolkit) ToWav(ctx context.Context, input, out string) error {
	args := buildToWavArgs(input, out, t.config.SampleRate, t.config.Channels)
	_, _, err := t.runFFmpeg(ctx, args)
	return err
}

// Trim cuts [startSec, startSec+durSec) out of input, preserving the codec.
func (t *Toolkit) Trim(ctx context.Context, input string, startSec, durSec float64, out string) error {
	if durSec <= 0 {
		return fmt.Errorf("trim duration must be positive, got %g", durSec)
	}
	args := buildTrimArgs(input, startSec, durSec, out)
	_, _, err := t.runFFmpeg(ctx, args)
	return err
}

// Stretch time-stretches input to targetSec without changing pitch. The
// required ratio is clamped to [StretchMin, StretchMax]; when clamping kicks
// in the operation still runs and the caller learns the applied ratio from
// the return value.
func (t *Toolkit) Stretch(ctx context.Context, input string, targetSec float64, out string) (float64, error) {
	if targetSec <= 0 {
		return 0, fmt.Errorf("stretch target must be positive, got %g", targetSec)
	}

	inputSec, err := t.ProbeDuration(ctx, input)
	if err != nil {
		return 0, err
	}

	ratio, _ := clampRatio(inputSec/targetSec, t.config.StretchMin, t.config.StretchMax)
	args := buildStretchArgs(input, ratio, out)
	if _, _, err := t.runFFmpeg(ctx, args); err != nil {
		return 0, err
	}
	return ratio, nil
}

// Concat losslessly concatenates inputs into out using the demux-concat
// method. The list must be non-empty and every entry must exist.
func (t *Toolkit) Concat(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("concat requires at least one input")
	}
	for _, p := range inputs {
		if err := verifyExists(p); err != nil {
			return err
		}
	}

	listPath, cleanup, err := writeConcatList(inputs, out)
	if err != nil {
		return err
	}
	defer cleanup()

	args := buildConcatArgs(listPath, out)
	_, _, runErr := t.runFFmpeg(ctx, args)
	return runErr
}

// Filter applies a declarative filter chain to input.
func (t *Toolkit) Filter(ctx context.Context, input string, chain *FilterChainConfig, out string) error {
	spec := chain.BuildFilterSpec()
	if spec == "" {
		return fmt.Errorf("filter chain is empty")
	}
	args := buildFilterArgs(input, spec, out)
	_, _, err := t.runFFmpeg(ctx, args)
	return err
}

// MixInput is one source in a single-pass mix: delayed by DelayMs, scaled by
// Weight, then summed with the others.
type MixInput struct {
	Path    string
	DelayMs int64
	Weight  float64
}

// Mix sums the inputs onto a common timeline in a single ffmpeg pass. The
// output duration, sample rate and channel layout follow the first input,
// so callers put the governing track first.
func (t *Toolkit) Mix(ctx context.Context, inputs []MixInput, out string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("mix requires at least one input")
	}
	for _, in := range inputs {
		if err := verifyExists(in.Path); err != nil {
			return err
		}
	}
	args := buildMixArgs(inputs, out)
	_, _, err := t.runFFmpeg(ctx, args)
	return err
}

func verifyExists(path string) error {
	if !fileExists(path) {
		return &types.InvalidArtifactError{Path: path, Why: "missing"}
	}
	return nil
}
