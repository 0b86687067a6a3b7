package separation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/types"
	"github.com/AltairaLabs/DubKit/workspace"
)

// Component is the error-taxonomy component name for separation failures.
const Component = "separator"

// DefaultCommand is the helper invocation used when none is configured. The
// {in} and {out} placeholders are substituted with the input wav and the
// output directory.
const DefaultCommand = "demucs --two-stems=vocals -o {out} {in}"

// DefaultTimeout bounds one separation run.
const DefaultTimeout = 10 * time.Minute

// Stem file names the engine expects the helper to produce. Helpers that
// write the demucs-style "no_vocals.wav" get that stem renamed.
const (
	vocalsStem        = "vocals.wav"
	accompanimentStem = "accompaniment.wav"
	noVocalsStem      = "no_vocals.wav"
)

// stderrReportLines is how many trailing stderr lines a failure carries.
const stderrReportLines = 8

// CommandEngine runs a two-stem separation helper as an external process.
type CommandEngine struct {
	command string
	timeout time.Duration
}

// CommandOption configures a CommandEngine.
type CommandOption func(*CommandEngine)

// WithTimeout overrides the per-run deadline.
func WithTimeout(timeout time.Duration) CommandOption {
	return func(e *CommandEngine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// NewCommandEngine creates an engine around the given helper command
// template. An empty command selects DefaultCommand.
func NewCommandEngine(command string, opts ...CommandOption) *CommandEngine {
	if command == "" {
		command = DefaultCommand
	}
	e := &CommandEngine{
		command: command,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine identifier.
func (e *CommandEngine) Name() string { return "command" }

// Available reports whether the helper binary resolves on PATH.
func (e *CommandEngine) Available() bool {
	argv := strings.Fields(e.command)
	if len(argv) == 0 {
		return false
	}
	_, err := exec.LookPath(argv[0])
	return err == nil
}

// Separate runs the helper on wavPath and collects the stems from outDir.
// The input file is passed by path and never written to.
func (e *CommandEngine) Separate(ctx context.Context, wavPath, outDir string) (*Result, error) {
	if err := workspace.Verify(wavPath); err != nil {
		return nil, err
	}

	argv := e.argv(wavPath, outDir)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty separator command")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	//nolint:gosec // G204: argv comes from operator configuration
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.ToolRun(Component, argv[0], argv[1:])
	start := time.Now()

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &types.TimeoutError{Component: Component, Err: runCtx.Err()}
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", Component, ctx.Err())
		}
		return nil, &types.ExternalToolError{
			Component:  Component,
			StderrTail: tailLines(stderr.String(), stderrReportLines),
			Err:        err,
		}
	}

	result, err := collectStems(outDir)
	if err != nil {
		return nil, err
	}

	logger.Info("Separation complete",
		"input", wavPath,
		"vocals", result.VocalsPath,
		"accompaniment", result.AccompanimentPath,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// argv expands the command template's {in} and {out} placeholders. A
// template without {in} gets the input appended, matching helpers that take
// the input as the final positional argument.
func (e *CommandEngine) argv(wavPath, outDir string) []string {
	fields := strings.Fields(e.command)
	argv := make([]string, 0, len(fields)+1)
	sawInput := false
	for _, f := range fields {
		switch f {
		case "{in}":
			argv = append(argv, wavPath)
			sawInput = true
		case "{out}":
			argv = append(argv, outDir)
		default:
			argv = append(argv, f)
		}
	}
	if !sawInput {
		argv = append(argv, wavPath)
	}
	return argv
}

// collectStems locates the stem files under outDir. Helpers nest their
// output in model/track subdirectories, so the search walks the whole tree.
// A "no_vocals.wav" stem is renamed to the canonical accompaniment name.
func collectStems(outDir string) (*Result, error) {
	var vocals, accompaniment, noVocals string
	err := filepath.WalkDir(outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch filepath.Base(path) {
		case vocalsStem:
			vocals = path
		case accompanimentStem:
			accompaniment = path
		case noVocalsStem:
			noVocals = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan separation output: %w", err)
	}

	if accompaniment == "" && noVocals != "" {
		accompaniment = filepath.Join(filepath.Dir(noVocals), accompanimentStem)
		if renameErr := os.Rename(noVocals, accompaniment); renameErr != nil {
			return nil, fmt.Errorf("failed to rename no_vocals stem: %w", renameErr)
		}
	}

	if vocals == "" || accompaniment == "" {
		return nil, &types.ExternalToolError{
			Component: Component,
			Err:       errors.New("expected stems missing after separation"),
		}
	}
	if err := workspace.Verify(vocals); err != nil {
		return nil, err
	}
	if err := workspace.Verify(accompaniment); err != nil {
		return nil, err
	}
	return &Result{VocalsPath: vocals, AccompanimentPath: accompaniment}, nil
}

// tailLines returns at most n trailing lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
