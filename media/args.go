package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ffmpeg flag constants shared across arg builders.
const (
	ffmpegFilterComplex = "-filter_complex"
)

// baseArgs are prepended to every non-measuring ffmpeg invocation: overwrite
// outputs, keep stderr down to real errors.
func baseArgs() []string {
	return []string{"-y", "-hide_banner", "-nostats", "-loglevel", "error"}
}

func buildToWavArgs(input, out string, sampleRate, channels int) []string {
	args := baseArgs()
	args = append(args,
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		out,
	)
	return args
}

func buildTrimArgs(input string, startSec, durSec float64, out string) []string {
	args := baseArgs()
	// -ss before -i seeks on the demuxer which is fast and, combined with
	// -c copy, codec-preserving.
	args = append(args,
		"-ss", formatSeconds(startSec),
		"-t", formatSeconds(durSec),
		"-i", input,
		"-c", "copy",
		out,
	)
	return args
}

func buildStretchArgs(input string, ratio float64, out string) []string {
	args := baseArgs()
	args = append(args,
		"-i", input,
		"-filter:a", fmt.Sprintf("atempo=%s", formatRatio(ratio)),
		out,
	)
	return args
}

func buildConcatArgs(listPath, out string) []string {
	args := baseArgs()
	args = append(args,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		out,
	)
	return args
}

func buildFilterArgs(input, filterSpec, out string) []string {
	args := baseArgs()
	args = append(args,
		"-i", input,
		"-filter:a", filterSpec,
		out,
	)
	return args
}

// buildMixArgs constructs a single-pass mix. Each input gets its own
// adelay+volume chain, then amix sums them. duration=first pins the output
// length to the first input; normalize=0 keeps the explicit weights intact.
func buildMixArgs(inputs []MixInput, out string) []string {
	args := baseArgs()
	for _, in := range inputs {
		args = append(args, "-i", in.Path)
	}

	var filterParts []string
	labels := make([]string, 0, len(inputs))
	for i, in := range inputs {
		var chain []string
		if in.DelayMs > 0 {
			chain = append(chain, fmt.Sprintf("adelay=delays=%d:all=1", in.DelayMs))
		}
		if in.Weight != 1.0 {
			chain = append(chain, fmt.Sprintf("volume=%s", formatRatio(in.Weight)))
		}
		if len(chain) == 0 {
			chain = append(chain, "acopy")
		}
		label := fmt.Sprintf("[a%d]", i)
		filterParts = append(filterParts, fmt.Sprintf("[%d:a]%s%s", i, strings.Join(chain, ","), label))
		labels = append(labels, label)
	}
	filterParts = append(filterParts, fmt.Sprintf("%samix=inputs=%d:duration=first:normalize=0[mix]",
		strings.Join(labels, ""), len(inputs)))

	args = append(args,
		ffmpegFilterComplex, strings.Join(filterParts, ";"),
		"-map", "[mix]",
		out,
	)
	return args
}

// buildLoudnormMeasureArgs constructs the loudnorm measurement pass. The
// filter prints its statistics at info level, so this is the one invocation
// that cannot run with -loglevel error.
func buildLoudnormMeasureArgs(input, loudnormSpec string) []string {
	return []string{
		"-hide_banner", "-nostats", "-loglevel", "info",
		"-i", input,
		"-filter:a", loudnormSpec + ":print_format=json",
		"-f", "null", "-",
	}
}

// writeConcatList writes the demux-concat list file next to out and returns
// its path plus a cleanup func.
func writeConcatList(inputs []string, out string) (string, func(), error) {
	f, err := os.CreateTemp(filepath.Dir(out), "concat-*.txt")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create concat list: %w", err)
	}
	if _, err := f.WriteString(concatListContent(inputs)); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to write concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to close concat list: %w", err)
	}
	name := f.Name()
	return name, func() { _ = os.Remove(name) }, nil
}

// concatListContent renders the ffmpeg concat demuxer list. Single quotes in
// paths are escaped per the demuxer's quoting rules.
func concatListContent(inputs []string) string {
	var b strings.Builder
	for _, p := range inputs {
		escaped := strings.ReplaceAll(p, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}

// clampRatio constrains ratio to [min, max] and reports whether clamping
// changed the value.
func clampRatio(ratio, min, max float64) (float64, bool) {
	switch {
	case ratio < min:
		return min, true
	case ratio > max:
		return max, true
	default:
		return ratio, false
	}
}

// formatSeconds renders a duration in seconds with millisecond precision,
// which is the finest granularity the pipeline tracks.
func formatSeconds(sec float64) string {
	return fmt.Sprintf("%.3f", sec)
}

// formatRatio renders a ratio or weight compactly without trailing zeros.
func formatRatio(r float64) string {
	s := fmt.Sprintf("%.4f", r)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
