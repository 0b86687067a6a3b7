// Package reference builds per-speaker voice cloning reference clips from
// the separated vocals track.
//
// A reference is the cleanest available stretch of one speaker's voice: the
// synthesis vendor conditions its cloning on it, so the builder prefers long
// uninterrupted speech and falls back to progressively wider extractions
// when the transcript offers too little.
package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/media"
	"github.com/AltairaLabs/DubKit/types"
	"github.com/AltairaLabs/DubKit/workspace"
)

// Selection policy constants, in seconds.
const (
	// minSegmentSec is the shortest transcript segment worth extracting.
	minSegmentSec = 0.5

	// targetRefSec is the summed clip duration after which extraction stops
	// widening: vendors plateau beyond ~10s of reference audio.
	targetRefSec = 10.0

	// widenSec is the margin added on each side of a segment when the plain
	// extractions fall short.
	widenSec = 1.0

	// fallbackWindowSec is the centered whole-vocals slice used when no
	// per-segment extraction works, or when the transcript has one speaker.
	fallbackWindowSec = 40.0

	// widenTopN caps how many segments the widened pass extracts.
	widenTopN = 3
)

// refsDir is the workspace subdirectory holding reference clips.
const refsDir = "refs"

// Toolkit is the subset of the media toolkit the builder needs.
type Toolkit interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Trim(ctx context.Context, input string, startSec, durSec float64, out string) error
	Concat(ctx context.Context, inputs []string, out string) error
	Filter(ctx context.Context, input string, chain *media.FilterChainConfig, out string) error
}

// Builder constructs speaker reference clips.
type Builder struct {
	toolkit   Toolkit
	postChain *media.FilterChainConfig
}

// Option configures a Builder.
type Option func(*Builder)

// WithPostChain overrides the cleanup filter chain applied to each produced
// reference. Passing nil disables post-processing.
func WithPostChain(chain *media.FilterChainConfig) Option {
	return func(b *Builder) {
		b.postChain = chain
	}
}

// NewBuilder creates a Builder. By default each reference is cleaned with
// the mild voice chain (highpass 70, lowpass 12k, moderate denoise, loudnorm)
// which preserves timbre.
func NewBuilder(toolkit Toolkit, opts ...Option) *Builder {
	b := &Builder{
		toolkit:   toolkit,
		postChain: media.VoiceReferenceChain(media.DefaultLoudnormTargets()),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces one reference clip per distinct speaker that has at least
// one segment requesting cloning. The returned map is keyed by speaker tag;
// entries are final once written and every path verifies as a non-empty
// regular file.
func (b *Builder) Build(
	ctx context.Context, ws *workspace.Workspace, vocalsPath string, segments []types.TranscriptSegment,
) (map[string]string, error) {
	speakers := cloneSpeakers(segments)
	if len(speakers) == 0 {
		return map[string]string{}, nil
	}

	vocalsDur, err := b.toolkit.ProbeDuration(ctx, vocalsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe vocals: %w", err)
	}

	if _, err := ws.Dir(refsDir); err != nil {
		return nil, err
	}

	singleSpeaker := len(distinctSpeakers(segments)) == 1

	refs := make(map[string]string, len(speakers))
	for _, speaker := range speakers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := b.buildOne(ctx, ws, vocalsPath, vocalsDur, speaker, segments, singleSpeaker)
		if err != nil {
			return nil, fmt.Errorf("failed to build reference for speaker %q: %w", speaker, err)
		}
		refs[speaker] = path
	}
	return refs, nil
}

// buildOne runs the selection policy for a single speaker.
func (b *Builder) buildOne(
	ctx context.Context,
	ws *workspace.Workspace,
	vocalsPath string,
	vocalsDur float64,
	speaker string,
	segments []types.TranscriptSegment,
	singleSpeaker bool,
) (string, error) {
	out := ws.Path(refsDir+"/"+sanitizeSpeaker(speaker), "wav")

	var raw string
	var err error
	if singleSpeaker {
		// One voice on the whole track: the centered slice beats stitching.
		raw, err = b.fallbackSlice(ctx, ws, vocalsPath, vocalsDur, speaker)
	} else {
		raw, err = b.extractFromSegments(ctx, ws, vocalsPath, vocalsDur, speaker, segments)
	}
	if err != nil {
		return "", err
	}

	if b.postChain == nil {
		if err := b.toolkit.Concat(ctx, []string{raw}, out); err != nil {
			return "", err
		}
	} else if err := b.toolkit.Filter(ctx, raw, b.postChain, out); err != nil {
		return "", err
	}

	if err := workspace.Verify(out); err != nil {
		return "", err
	}
	return out, nil
}

// extractFromSegments tries the per-segment policy steps 1-4, falling back
// to the whole-vocals slice when nothing usable comes out.
func (b *Builder) extractFromSegments(
	ctx context.Context,
	ws *workspace.Workspace,
	vocalsPath string,
	vocalsDur float64,
	speaker string,
	segments []types.TranscriptSegment,
) (string, error) {
	candidates := speakerSegments(segments, speaker)

	clips, total, err := b.extractClips(ctx, ws, vocalsPath, speaker, candidates, 0, vocalsDur)
	if err != nil {
		return "", err
	}

	if total < targetRefSec {
		// Not enough clean audio: widen the longest segments and retry.
		widened := topLongest(candidates, widenTopN)
		logger.Debug("Widening reference extraction",
			"speaker", speaker, "plain_sec", total, "segments", len(widened))
		clips, _, err = b.extractClips(ctx, ws, vocalsPath, speaker, widened, widenSec, vocalsDur)
		if err != nil {
			return "", err
		}
	}

	if len(clips) == 0 {
		logger.Warn("No usable segments for speaker reference, using whole-vocals slice",
			"speaker", speaker)
		return b.fallbackSlice(ctx, ws, vocalsPath, vocalsDur, speaker)
	}

	combined := ws.Path(refsDir+"/"+sanitizeSpeaker(speaker)+"-raw", "wav")
	if err := b.toolkit.Concat(ctx, clips, combined); err != nil {
		return "", err
	}
	return combined, nil
}

// extractClips cuts each candidate segment (widened by margin on both sides,
// clipped to the vocals bounds) out of vocals. Clips that fail to probe are
// discarded rather than failing the build. Returns the kept clip paths and
// their summed duration.
func (b *Builder) extractClips(
	ctx context.Context,
	ws *workspace.Workspace,
	vocalsPath, speaker string,
	candidates []types.TranscriptSegment,
	margin float64,
	vocalsDur float64,
) ([]string, float64, error) {
	var clips []string
	var total float64
	for i, seg := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		start := float64(seg.StartMs)/1000 - margin
		end := float64(seg.EndMs)/1000 + margin
		if start < 0 {
			start = 0
		}
		if end > vocalsDur {
			end = vocalsDur
		}
		if end-start <= 0 {
			continue
		}

		clip := ws.Path(fmt.Sprintf("%s/%s-clip-%d", refsDir, sanitizeSpeaker(speaker), i), "wav")
		if err := b.toolkit.Trim(ctx, vocalsPath, start, end-start, clip); err != nil {
			logger.Warn("Reference clip extraction failed, skipping segment",
				"speaker", speaker, "segment_start_ms", seg.StartMs, "error", err)
			continue
		}
		dur, err := b.toolkit.ProbeDuration(ctx, clip)
		if err != nil {
			logger.Warn("Reference clip failed to probe, discarding",
				"speaker", speaker, "clip", clip, "error", err)
			continue
		}
		clips = append(clips, clip)
		total += dur
	}
	return clips, total, nil
}

// fallbackSlice cuts a centered fallbackWindowSec slice out of the whole
// vocals track, or the full track when it is shorter.
func (b *Builder) fallbackSlice(
	ctx context.Context, ws *workspace.Workspace, vocalsPath string, vocalsDur float64, speaker string,
) (string, error) {
	start := 0.0
	dur := vocalsDur
	if vocalsDur > fallbackWindowSec {
		start = (vocalsDur - fallbackWindowSec) / 2
		dur = fallbackWindowSec
	}

	out := ws.Path(refsDir+"/"+sanitizeSpeaker(speaker)+"-full", "wav")
	if err := b.toolkit.Trim(ctx, vocalsPath, start, dur, out); err != nil {
		return "", err
	}
	return out, nil
}

// cloneSpeakers returns the distinct speakers with at least one cloning
// segment, in order of first appearance.
func cloneSpeakers(segments []types.TranscriptSegment) []string {
	seen := make(map[string]bool, 4)
	var out []string
	for _, seg := range segments {
		if seg.WantsClone() && !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			out = append(out, seg.Speaker)
		}
	}
	return out
}

// distinctSpeakers returns every distinct speaker tag in the transcript.
func distinctSpeakers(segments []types.TranscriptSegment) []string {
	seen := make(map[string]bool, 4)
	var out []string
	for _, seg := range segments {
		if !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			out = append(out, seg.Speaker)
		}
	}
	return out
}

// speakerSegments returns the speaker's segments of at least minSegmentSec,
// sorted by start time.
func speakerSegments(segments []types.TranscriptSegment, speaker string) []types.TranscriptSegment {
	var out []types.TranscriptSegment
	for _, seg := range segments {
		if seg.Speaker == speaker && float64(seg.DurationMs())/1000 >= minSegmentSec {
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return out
}

// topLongest returns up to n segments ordered longest-first, then re-sorted
// by start so concatenation keeps chronological order.
func topLongest(segments []types.TranscriptSegment, n int) []types.TranscriptSegment {
	byLen := make([]types.TranscriptSegment, len(segments))
	copy(byLen, segments)
	sort.SliceStable(byLen, func(i, j int) bool { return byLen[i].DurationMs() > byLen[j].DurationMs() })
	if len(byLen) > n {
		byLen = byLen[:n]
	}
	sort.SliceStable(byLen, func(i, j int) bool { return byLen[i].StartMs < byLen[j].StartMs })
	return byLen
}

// sanitizeSpeaker maps a speaker tag to a safe file-name fragment.
func sanitizeSpeaker(speaker string) string {
	if speaker == "" {
		return "speaker"
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, speaker)
	return mapped
}
