package media

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/AltairaLabs/DubKit/logger"
)

// LoudnormStats are the measured loudness statistics the loudnorm filter
// prints as JSON at the end of a measurement pass. ffmpeg quotes every
// numeric value, hence the string-typed JSON tags.
type LoudnormStats struct {
	InputI       float64 `json:"input_i,string"`
	InputTP      float64 `json:"input_tp,string"`
	InputLRA     float64 `json:"input_lra,string"`
	InputThresh  float64 `json:"input_thresh,string"`
	TargetOffset float64 `json:"target_offset,string"`
}

// Loudnorm normalizes input to the given broadcast loudness targets.
//
// When twoPass is set a measurement pass runs first and its statistics feed a
// linear second pass. Measurement or stats-parse failures are warnings, not
// errors: the call falls back to the single-pass filter, which still
// converges on the targets, just less transparently.
func (t *Toolkit) Loudnorm(ctx context.Context, input string, targets LoudnormTargets, twoPass bool, out string) error {
	if err := verifyExists(input); err != nil {
		return err
	}

	var measured *LoudnormStats
	if twoPass {
		stats, err := t.measureLoudness(ctx, input, targets)
		if err != nil {
			logger.Warn("Loudness measurement failed, falling back to single pass",
				"input", input, "error", err)
		} else {
			measured = stats
		}
	}

	args := buildFilterArgs(input, loudnormSpec(targets, measured), out)
	_, _, err := t.runFFmpeg(ctx, args)
	return err
}

// measureLoudness runs the loudnorm measurement pass and parses the JSON
// statistics it prints on stderr.
func (t *Toolkit) measureLoudness(ctx context.Context, input string, targets LoudnormTargets) (*LoudnormStats, error) {
	args := buildLoudnormMeasureArgs(input, loudnormSpec(targets, nil))
	_, stderr, err := t.run(ctx, t.config.FFmpegPath, args)
	if err != nil {
		return nil, err
	}
	return parseLoudnormStats(stderr)
}

// parseLoudnormStats extracts the JSON statistics block from the measurement
// pass stderr. The block is the last {...} group in the output.
func parseLoudnormStats(stderr string) (*LoudnormStats, error) {
	start := strings.LastIndexByte(stderr, '{')
	end := strings.LastIndexByte(stderr, '}')
	if start < 0 || end <= start {
		return nil, errNoStatsBlock
	}

	var stats LoudnormStats
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// errNoStatsBlock reports measurement output without a JSON stats block.
var errNoStatsBlock = errStatic("no loudnorm stats block in measurement output")

type errStatic string

func (e errStatic) Error() string { return string(e) }
