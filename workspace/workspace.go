// Package workspace manages per-job temporary directories.
//
// Every file a pipeline run produces lives inside one Workspace rooted under
// the configured temp directory. The workspace tracks every path it hands
// out and Release deletes all of them exactly once, so a job can never leak
// intermediates no matter how it exits.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/types"
)

const (
	dirPerm = 0o750
)

// Workspace is a scoped temp directory plus the set of paths registered
// under it. All methods are safe for concurrent use.
type Workspace struct {
	root string

	mu       sync.Mutex
	names    map[string]bool // relative names already handed out
	files    []string        // registered files, absolute
	dirs     []string        // registered subdirectories, absolute
	released bool
}

// New creates an empty, uniquely named directory under tempRoot and returns
// a Workspace rooted there. The prefix, when non-empty, is prepended to the
// directory name for legibility in temp listings.
func New(tempRoot, prefix string) (*Workspace, error) {
	name := uuid.New().String()
	if prefix != "" {
		name = prefix + "-" + name
	}
	root := filepath.Join(tempRoot, name)
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{
		root:  root,
		names: make(map[string]bool),
	}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Path returns and registers a fresh unique file path under the workspace
// root. The file is not created. The prefix may contain a subdirectory
// (e.g. "tts/3"); the parent must already exist via Dir. The first call for
// a given prefix yields exactly prefix+ext, later calls append a counter.
func (w *Workspace) Path(prefix, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	name := prefix + ext
	for i := 2; w.names[name]; i++ {
		name = fmt.Sprintf("%s-%d%s", prefix, i, ext)
	}
	w.names[name] = true

	p := filepath.Join(w.root, name)
	w.files = append(w.files, p)
	return p
}

// Dir creates and registers a subdirectory under the workspace root.
func (w *Workspace) Dir(prefix string) (string, error) {
	w.mu.Lock()
	name := prefix
	for i := 2; w.names[name]; i++ {
		name = fmt.Sprintf("%s-%d", prefix, i)
	}
	w.names[name] = true
	p := filepath.Join(w.root, name)
	w.dirs = append(w.dirs, p)
	w.mu.Unlock()

	if err := os.MkdirAll(p, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create workspace dir: %w", err)
	}
	return p, nil
}

// Verify asserts that path exists, is a regular file and is non-empty.
// Violations return an InvalidArtifactError naming the path.
func Verify(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &types.InvalidArtifactError{Path: path, Why: "missing"}
	}
	if !info.Mode().IsRegular() {
		return &types.InvalidArtifactError{Path: path, Why: "not a regular file"}
	}
	if info.Size() == 0 {
		return &types.InvalidArtifactError{Path: path, Why: "empty file"}
	}
	return nil
}

// Release deletes every registered path and finally the root directory.
// Individual failures are logged and skipped, never fatal. The handle is
// drained afterwards so a second Release is a no-op.
func (w *Workspace) Release() {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return
	}
	w.released = true
	files := w.files
	dirs := w.dirs
	w.files = nil
	w.dirs = nil
	w.names = nil
	w.mu.Unlock()

	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove workspace file", "path", f, "error", err)
		}
	}
	// Subdirectories in reverse registration order so nested dirs go first.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.RemoveAll(dirs[i]); err != nil {
			logger.Warn("Failed to remove workspace dir", "path", dirs[i], "error", err)
		}
	}
	if err := os.RemoveAll(w.root); err != nil {
		logger.Warn("Failed to remove workspace root", "path", w.root, "error", err)
	}
}

// Released reports whether Release has already run.
func (w *Workspace) Released() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}
