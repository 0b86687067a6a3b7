package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/types"
)

const (
	// stderrKeepLines is how many stderr lines the runner retains. Large
	// enough for the loudnorm stats block, which arrives at the end.
	stderrKeepLines = 32

	// stderrReportLines is how many of those lines an error carries.
	stderrReportLines = 8
)

// runFFmpeg executes ffmpeg with the toolkit deadline.
func (t *Toolkit) runFFmpeg(ctx context.Context, args []string) (string, string, error) {
	return t.run(ctx, t.config.FFmpegPath, args)
}

// runFFprobe executes ffprobe with the toolkit deadline.
func (t *Toolkit) runFFprobe(ctx context.Context, args []string) (string, string, error) {
	return t.run(ctx, t.config.FFprobePath, args)
}

// run executes one external tool call. The child is placed in its own
// process group so a deadline kills ffmpeg and anything it spawned, not just
// the direct child. Returns stdout and the retained stderr tail.
func (t *Toolkit) run(ctx context.Context, bin string, args []string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	//nolint:gosec // G204: bin is the configured transcoder binary
	cmd := exec.CommandContext(runCtx, bin, args...)

	var stdout bytes.Buffer
	tail := newTailBuffer(stderrKeepLines)
	cmd.Stdout = &stdout
	cmd.Stderr = tail

	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	logger.ToolRun(componentTranscoder, bin, args)

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", "", &types.TimeoutError{Component: componentTranscoder, Err: runCtx.Err()}
		}
		if ctx.Err() != nil {
			return "", "", fmt.Errorf("%s interrupted: %w", componentTranscoder, ctx.Err())
		}
		return "", "", &types.ExternalToolError{
			Component:  componentTranscoder,
			StderrTail: tail.Tail(stderrReportLines),
			Err:        err,
		}
	}

	return stdout.String(), tail.String(), nil
}

// tailBuffer is an io.Writer that retains only the last N lines written.
// ffmpeg emits progress chatter proportional to input length; keeping the
// tail bounds memory while preserving the part that explains a failure.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	pending string
}

func newTailBuffer(maxLines int) *tailBuffer {
	return &tailBuffer{max: maxLines}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending += string(p)
	for {
		idx := strings.IndexByte(b.pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(b.pending[:idx], "\r")
		b.pending = b.pending[idx+1:]
		b.lines = append(b.lines, line)
		if len(b.lines) > b.max {
			b.lines = b.lines[len(b.lines)-b.max:]
		}
	}
	return len(p), nil
}

// String returns all retained lines joined by newlines.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.joinLocked(b.lines)
}

// Tail returns at most n of the most recent lines.
func (b *tailBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return b.joinLocked(lines)
}

func (b *tailBuffer) joinLocked(lines []string) string {
	out := strings.Join(lines, "\n")
	if b.pending != "" {
		if out != "" {
			out += "\n"
		}
		out += b.pending
	}
	return out
}
