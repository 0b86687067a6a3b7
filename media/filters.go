package media

import (
	"fmt"
	"strings"
)

// FilterID identifies a filter in the processing chain.
type FilterID string

// Filter identifiers for the audio processing chain.
const (
	FilterHighpass   FilterID = "highpass"
	FilterLowpass    FilterID = "lowpass"
	FilterDenoise    FilterID = "denoise"
	FilterCompressor FilterID = "compressor"
	FilterLoudnorm   FilterID = "loudnorm"
)

// DefaultFilterOrder defines the chain sequence. Order rationale:
// frequency trims first so the denoiser sees a bounded band, compression
// after denoising so it does not pump on noise, loudnorm last so the final
// level survives every upstream gain change.
var DefaultFilterOrder = []FilterID{
	FilterHighpass,
	FilterLowpass,
	FilterDenoise,
	FilterCompressor,
	FilterLoudnorm,
}

// filterBuilderFunc builds a filter spec fragment from config. Returns the
// empty string when the filter is disabled.
type filterBuilderFunc func(*FilterChainConfig) string

// filterBuilders maps FilterID to its builder. The registry centralises spec
// generation and avoids per-call map allocation.
var filterBuilders = map[FilterID]filterBuilderFunc{
	FilterHighpass:   (*FilterChainConfig).buildHighpassFilter,
	FilterLowpass:    (*FilterChainConfig).buildLowpassFilter,
	FilterDenoise:    (*FilterChainConfig).buildDenoiseFilter,
	FilterCompressor: (*FilterChainConfig).buildCompressorFilter,
	FilterLoudnorm:   (*FilterChainConfig).buildLoudnormFilter,
}

// FilterChainConfig holds configuration for a declarative filter chain.
type FilterChainConfig struct {
	// Highpass (highpass) removes rumble and low-frequency bleed below the
	// cutoff. Voice references use 70 Hz.
	HighpassEnabled bool
	HighpassHz      float64

	// Lowpass (lowpass) removes hiss and ultrasonic content above the
	// cutoff. Voice references use 12 kHz.
	LowpassEnabled bool
	LowpassHz      float64

	// Denoise (afftdn) applies FFT noise reduction.
	DenoiseEnabled bool
	DenoiseDb      float64 // noise reduction in dB, default 12

	// Compressor (acompressor) evens out dynamics.
	CompressorEnabled   bool
	CompressorThreshold float64 // linear threshold, default 0.125 (~ -18 dB)
	CompressorRatio     float64 // default 3:1

	// Loudnorm (loudnorm) normalizes to broadcast loudness, single pass.
	LoudnormEnabled bool
	Loudnorm        LoudnormTargets

	// FilterOrder controls the chain sequence; empty means DefaultFilterOrder.
	FilterOrder []FilterID
}

// LoudnormTargets are the EBU R128 parameters for loudness normalization.
type LoudnormTargets struct {
	IntegratedLUFS float64 // I, default -16
	TruePeakDb     float64 // TP, default -1.5
	LoudnessRange  float64 // LRA, default 11
}

// DefaultLoudnormTargets returns the delivery loudness used across the
// pipeline.
func DefaultLoudnormTargets() LoudnormTargets {
	return LoudnormTargets{
		IntegratedLUFS: -16,
		TruePeakDb:     -1.5,
		LoudnessRange:  11,
	}
}

// VoiceReferenceChain returns the cleanup chain applied to speaker reference
// clips before they are sent to the synthesis vendor.
func VoiceReferenceChain(targets LoudnormTargets) *FilterChainConfig {
	return &FilterChainConfig{
		HighpassEnabled: true,
		HighpassHz:      70,
		LowpassEnabled:  true,
		LowpassHz:       12000,
		DenoiseEnabled:  true,
		DenoiseDb:       12,
		LoudnormEnabled: true,
		Loudnorm:        targets,
	}
}

// BuildFilterSpec builds the ffmpeg filter specification string. Filter
// order is cfg.FilterOrder or DefaultFilterOrder; disabled filters are
// skipped.
func (cfg *FilterChainConfig) BuildFilterSpec() string {
	order := cfg.FilterOrder
	if len(order) == 0 {
		order = DefaultFilterOrder
	}

	var filters []string
	for _, id := range order {
		if builder, ok := filterBuilders[id]; ok {
			if spec := builder(cfg); spec != "" {
				filters = append(filters, spec)
			}
		}
	}
	return strings.Join(filters, ",")
}

func (cfg *FilterChainConfig) buildHighpassFilter() string {
	if !cfg.HighpassEnabled {
		return ""
	}
	hz := cfg.HighpassHz
	if hz <= 0 {
		hz = 70
	}
	return fmt.Sprintf("highpass=f=%.0f", hz)
}

func (cfg *FilterChainConfig) buildLowpassFilter() string {
	if !cfg.LowpassEnabled {
		return ""
	}
	hz := cfg.LowpassHz
	if hz <= 0 {
		hz = 12000
	}
	return fmt.Sprintf("lowpass=f=%.0f", hz)
}

func (cfg *FilterChainConfig) buildDenoiseFilter() string {
	if !cfg.DenoiseEnabled {
		return ""
	}
	db := cfg.DenoiseDb
	if db <= 0 {
		db = 12
	}
	return fmt.Sprintf("afftdn=nr=%.0f:nf=-25", db)
}

func (cfg *FilterChainConfig) buildCompressorFilter() string {
	if !cfg.CompressorEnabled {
		return ""
	}
	threshold := cfg.CompressorThreshold
	if threshold <= 0 {
		threshold = 0.125
	}
	ratio := cfg.CompressorRatio
	if ratio <= 0 {
		ratio = 3.0
	}
	return fmt.Sprintf("acompressor=threshold=%.6f:ratio=%.1f:attack=10:release=200:detection=rms", threshold, ratio)
}

func (cfg *FilterChainConfig) buildLoudnormFilter() string {
	if !cfg.LoudnormEnabled {
		return ""
	}
	return loudnormSpec(cfg.Loudnorm, nil)
}

// loudnormSpec renders the loudnorm filter. measured, when non-nil, switches
// to the linear second pass with the first pass's statistics baked in.
func loudnormSpec(targets LoudnormTargets, measured *LoudnormStats) string {
	t := normalizeTargets(targets)
	spec := fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s",
		formatRatio(t.IntegratedLUFS), formatRatio(t.TruePeakDb), formatRatio(t.LoudnessRange))
	if measured != nil {
		spec += fmt.Sprintf(":measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
			formatRatio(measured.InputI), formatRatio(measured.InputTP),
			formatRatio(measured.InputLRA), formatRatio(measured.InputThresh),
			formatRatio(measured.TargetOffset))
	}
	return spec
}

func normalizeTargets(t LoudnormTargets) LoudnormTargets {
	defaults := DefaultLoudnormTargets()
	if t.IntegratedLUFS == 0 {
		t.IntegratedLUFS = defaults.IntegratedLUFS
	}
	if t.TruePeakDb == 0 {
		t.TruePeakDb = defaults.TruePeakDb
	}
	if t.LoudnessRange == 0 {
		t.LoudnessRange = defaults.LoudnessRange
	}
	return t
}
