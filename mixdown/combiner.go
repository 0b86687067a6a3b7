package mixdown

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/media"
	"github.com/AltairaLabs/DubKit/types"
	"github.com/AltairaLabs/DubKit/workspace"
)

// Mix level defaults. Background sits under the speech; the legal
// background range is 0.3 to 0.6.
const (
	DefaultBackgroundWeight = 0.4
	DefaultSpeechWeight     = 1.0
)

// mixDir is the workspace subdirectory holding the rendered mix.
const mixDir = "mix"

// Toolkit is the subset of the media toolkit the combiner needs.
type Toolkit interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Stretch(ctx context.Context, input string, targetSec float64, out string) (float64, error)
	Mix(ctx context.Context, inputs []media.MixInput, out string) error
	Loudnorm(ctx context.Context, input string, targets media.LoudnormTargets, twoPass bool, out string) error
}

// Config configures the combiner.
type Config struct {
	// BackgroundWeight scales the background track in the mix. Default 0.4.
	BackgroundWeight float64

	// SpeechWeight scales each speech segment. Default 1.0.
	SpeechWeight float64

	// GapMs is the minimum silence between consecutive segments. Default 100.
	GapMs int64

	// MinSegmentMs drops segments at or under this adjusted duration.
	// Default 100.
	MinSegmentMs int64

	// StretchMin and StretchMax mirror the toolkit's clamp bounds; a fit
	// ratio landing on a bound means the segment will overrun its slot.
	StretchMin float64
	StretchMax float64

	// Normalize applies a final loudness pass to the mix. Default on.
	Normalize bool

	// Loudnorm holds the delivery loudness targets for the final pass.
	Loudnorm media.LoudnormTargets

	// LoudnormTwoPass enables the measured two-pass normalization.
	LoudnormTwoPass bool
}

// DefaultConfig returns the combiner defaults.
func DefaultConfig() Config {
	return Config{
		BackgroundWeight: DefaultBackgroundWeight,
		SpeechWeight:     DefaultSpeechWeight,
		GapMs:            DefaultGapMs,
		MinSegmentMs:     DefaultMinSegmentMs,
		StretchMin:       media.DefaultStretchMin,
		StretchMax:       media.DefaultStretchMax,
		Normalize:        true,
		Loudnorm:         media.DefaultLoudnormTargets(),
	}
}

// Combiner renders the final dubbed track from the background and the
// synthesized segments.
type Combiner struct {
	toolkit Toolkit
	config  Config
}

// NewCombiner creates a Combiner, filling config defaults for zero values.
func NewCombiner(toolkit Toolkit, config Config) *Combiner {
	if config.BackgroundWeight <= 0 {
		config.BackgroundWeight = DefaultBackgroundWeight
	}
	if config.SpeechWeight <= 0 {
		config.SpeechWeight = DefaultSpeechWeight
	}
	if config.GapMs <= 0 {
		config.GapMs = DefaultGapMs
	}
	if config.MinSegmentMs <= 0 {
		config.MinSegmentMs = DefaultMinSegmentMs
	}
	if config.StretchMin <= 0 {
		config.StretchMin = media.DefaultStretchMin
	}
	if config.StretchMax <= 0 {
		config.StretchMax = media.DefaultStretchMax
	}
	if config.Loudnorm == (media.LoudnormTargets{}) {
		config.Loudnorm = media.DefaultLoudnormTargets()
	}
	return &Combiner{toolkit: toolkit, config: config}
}

// Combine mixes the synthesized segments over the background on the original
// timeline and returns the path of the rendered file inside the workspace.
//
// speechPaths and segments are parallel slices in transcript order. The
// background goes first into the mix, so the output inherits its duration,
// sample rate and channel layout.
func (c *Combiner) Combine(
	ctx context.Context,
	ws *workspace.Workspace,
	backgroundPath string,
	speechPaths []string,
	segments []types.TranscriptSegment,
) (string, error) {
	if len(speechPaths) != len(segments) {
		return "", fmt.Errorf("speech count %d does not match segment count %d",
			len(speechPaths), len(segments))
	}

	backgroundSec, err := c.toolkit.ProbeDuration(ctx, backgroundPath)
	if err != nil {
		return "", fmt.Errorf("failed to probe background: %w", err)
	}

	placements, dropped := ResolveSchedule(segments, c.config.GapMs, c.config.MinSegmentMs)
	for _, idx := range dropped {
		logger.Warn("Dropping segment squeezed out by overlap resolution",
			"segment_index", idx, "start_ms", segments[idx].StartMs)
	}

	dir, err := ws.Dir(mixDir)
	if err != nil {
		return "", err
	}

	inputs := make([]media.MixInput, 0, len(placements)+1)
	inputs = append(inputs, media.MixInput{
		Path:   backgroundPath,
		Weight: c.config.BackgroundWeight,
	})

	for _, p := range placements {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fitted, err := c.fitSegment(ctx, ws, speechPaths[p.Index], p)
		if err != nil {
			return "", err
		}
		inputs = append(inputs, media.MixInput{
			Path:    fitted,
			DelayMs: p.StartMs,
			Weight:  c.config.SpeechWeight,
		})
	}

	final := filepath.Join(dir, "final.wav")
	if err := c.toolkit.Mix(ctx, inputs, final); err != nil {
		return "", err
	}

	if c.config.Normalize {
		normalized := filepath.Join(dir, "final-normalized.wav")
		if err := c.toolkit.Loudnorm(ctx, final, c.config.Loudnorm, c.config.LoudnormTwoPass, normalized); err != nil {
			return "", err
		}
		final = normalized
	}

	if err := workspace.Verify(final); err != nil {
		return "", err
	}

	logger.Info("Rendered final mix",
		"segments", len(placements), "dropped", len(dropped), "background_sec", backgroundSec)
	return final, nil
}

// fitSegment time-stretches one synthesized clip into its scheduled slot.
// A clamped ratio means the clip will overrun; that is accepted with a
// warning rather than failing the job.
func (c *Combiner) fitSegment(
	ctx context.Context, ws *workspace.Workspace, speechPath string, p Placement,
) (string, error) {
	targetSec := float64(p.DurationMs) / 1000

	out := ws.Path(fmt.Sprintf("%s/seg-%d", mixDir, p.Index), "wav")
	ratio, err := c.toolkit.Stretch(ctx, speechPath, targetSec, out)
	if err != nil {
		return "", err
	}
	if ratio <= c.config.StretchMin || ratio >= c.config.StretchMax {
		logger.Warn("Stretch ratio clamped, segment will overrun its slot",
			"segment_index", p.Index, "ratio", ratio, "target_sec", targetSec)
	}
	return out, nil
}
