package media

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// MinToolVersion is the oldest transcoder release the toolkit supports. The
// adelay all=1 option and the loudnorm linear mode both need 4.4.
const MinToolVersion = ">= 4.4.0"

// versionToken matches the leading numeric version in tool banners like
// "ffmpeg version 6.1.1-3ubuntu5" or "ffprobe version n7.0".
var versionToken = regexp.MustCompile(`version\s+n?(\d+(?:\.\d+){0,2})`)

// ToolStatus describes one external tool check.
type ToolStatus struct {
	Name    string
	Path    string
	Version string
	Err     error
}

// OK reports whether the tool is present and satisfies MinToolVersion.
func (s ToolStatus) OK() bool {
	return s.Err == nil
}

// CheckTools probes the configured ffmpeg and ffprobe binaries and validates
// their versions against MinToolVersion. The result always has one entry per
// tool; a missing or too-old tool carries the error in its entry rather than
// failing the call, so callers can report every problem at once.
func (t *Toolkit) CheckTools(ctx context.Context) []ToolStatus {
	constraint, err := semver.NewConstraint(MinToolVersion)
	if err != nil {
		// MinToolVersion is a package constant; this cannot happen in a
		// released build but guards local edits.
		panic(fmt.Sprintf("invalid MinToolVersion %q: %v", MinToolVersion, err))
	}

	statuses := make([]ToolStatus, 0, 2)
	for _, tool := range []struct{ name, path string }{
		{"ffmpeg", t.config.FFmpegPath},
		{"ffprobe", t.config.FFprobePath},
	} {
		status := ToolStatus{Name: tool.name, Path: tool.path}
		stdout, _, runErr := t.run(ctx, tool.path, []string{"-version"})
		if runErr != nil {
			status.Err = fmt.Errorf("%s not runnable: %w", tool.name, runErr)
			statuses = append(statuses, status)
			continue
		}

		version, parseErr := parseToolVersion(stdout)
		if parseErr != nil {
			status.Err = fmt.Errorf("%s: %w", tool.name, parseErr)
			statuses = append(statuses, status)
			continue
		}
		status.Version = version.Original()

		if !constraint.Check(version) {
			status.Err = fmt.Errorf("%s %s does not satisfy %s", tool.name, version, MinToolVersion)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// parseToolVersion extracts the semantic version from a -version banner.
// Git snapshot builds (e.g. "N-109xxx-gabcdef") have no release number; they
// are reported as unparsable rather than guessed at.
func parseToolVersion(banner string) (*semver.Version, error) {
	firstLine := banner
	if idx := strings.IndexByte(banner, '\n'); idx >= 0 {
		firstLine = banner[:idx]
	}

	m := versionToken.FindStringSubmatch(firstLine)
	if m == nil {
		return nil, fmt.Errorf("no version token in banner %q", strings.TrimSpace(firstLine))
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil, fmt.Errorf("unparsable version %q: %w", m[1], err)
	}
	return v, nil
}
