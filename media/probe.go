package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jmespath/go-jmespath"

	"github.com/AltairaLabs/DubKit/types"
)

// JMESPath expressions into ffprobe's JSON output. The container duration is
// authoritative; the first audio stream's is the fallback for containers
// that omit format-level duration.
const (
	exprFormatDuration = "format.duration"
	exprStreamDuration = "streams[?codec_type=='audio'] | [0].duration"
	exprSampleRate     = "streams[?codec_type=='audio'] | [0].sample_rate"
	exprChannels       = "streams[?codec_type=='audio'] | [0].channels"
)

// ProbeInfo describes the audio properties ffprobe reported for a file.
type ProbeInfo struct {
	DurationSec float64
	SampleRate  int
	Channels    int
}

// ProbeDuration returns the duration of the file in seconds. A missing or
// non-positive duration is an InvalidArtifactError.
func (t *Toolkit) ProbeDuration(ctx context.Context, path string) (float64, error) {
	info, err := t.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.DurationSec, nil
}

// Probe runs ffprobe on path and extracts duration, sample rate and channel
// count from its JSON output.
func (t *Toolkit) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	if err := verifyExists(path); err != nil {
		return nil, err
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	stdout, _, err := t.runFFprobe(ctx, args)
	if err != nil {
		return nil, err
	}

	info, err := parseProbeOutput(stdout)
	if err != nil {
		return nil, &types.InvalidArtifactError{Path: path, Why: err.Error()}
	}
	return info, nil
}

// parseProbeOutput extracts probe fields from ffprobe JSON.
func parseProbeOutput(out string) (*ProbeInfo, error) {
	var data any
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		return nil, fmt.Errorf("unparsable probe output: %v", err)
	}

	duration, err := searchFloat(data, exprFormatDuration)
	if err != nil || duration <= 0 {
		duration, err = searchFloat(data, exprStreamDuration)
	}
	if err != nil {
		return nil, fmt.Errorf("no duration in probe output")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("non-positive duration %g", duration)
	}

	info := &ProbeInfo{DurationSec: duration}

	// Sample rate and channels are best-effort; not all containers report them.
	if rate, rateErr := searchFloat(data, exprSampleRate); rateErr == nil {
		info.SampleRate = int(rate)
	}
	if ch, chErr := searchFloat(data, exprChannels); chErr == nil {
		info.Channels = int(ch)
	}
	return info, nil
}

// searchFloat evaluates a JMESPath expression and coerces the result to a
// float64. ffprobe reports most numerics as JSON strings.
func searchFloat(data any, expression string) (float64, error) {
	result, err := jmespath.Search(expression, data)
	if err != nil {
		return 0, fmt.Errorf("JMESPath error: %w", err)
	}
	switch v := result.(type) {
	case float64:
		return v, nil
	case string:
		f, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("non-numeric value %q for %s", v, expression)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("no value for %s", expression)
	default:
		return 0, fmt.Errorf("unexpected type %T for %s", result, expression)
	}
}
