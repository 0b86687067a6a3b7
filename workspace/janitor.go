package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/AltairaLabs/DubKit/logger"
)

// DefaultMaxAge is how old a workspace directory must be before the janitor
// considers it abandoned.
const DefaultMaxAge = 24 * time.Hour

// Janitor sweeps the temp root for workspace directories left behind by
// crashed processes. A live process always releases its workspaces itself;
// the janitor only catches the wreckage of processes that never got to.
type Janitor struct {
	tempRoot string
	maxAge   time.Duration
	locker   *Locker
}

// NewJanitor creates a Janitor for tempRoot. A non-positive maxAge selects
// DefaultMaxAge.
func NewJanitor(tempRoot string, maxAge time.Duration) *Janitor {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Janitor{
		tempRoot: tempRoot,
		maxAge:   maxAge,
		locker:   NewLocker(tempRoot),
	}
}

// Sweep removes workspace directories older than the configured age.
// It returns the number of directories removed. When another process holds
// the sweep lock the sweep is skipped and (0, nil) is returned.
func (j *Janitor) Sweep() (int, error) {
	if err := j.locker.Lock(); err != nil {
		if errors.Is(err, ErrLockHeld) {
			logger.Debug("Skipping temp sweep, lock held elsewhere", "temp_root", j.tempRoot)
			return 0, nil
		}
		return 0, err
	}
	defer func() {
		if err := j.locker.Unlock(); err != nil {
			logger.Warn("Failed to release sweep lock", "error", err)
		}
	}()

	entries, err := os.ReadDir(j.tempRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(j.tempRoot, entry.Name())
		if err := os.RemoveAll(p); err != nil {
			logger.Warn("Failed to sweep abandoned workspace", "path", p, "error", err)
			continue
		}
		logger.Info("Swept abandoned workspace", "path", p, "age", time.Since(info.ModTime()).Round(time.Minute))
		removed++
	}
	return removed, nil
}

// Run sweeps once immediately, then on every tick of interval until the
// context is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	if _, err := j.Sweep(); err != nil {
		logger.Warn("Temp sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(); err != nil {
				logger.Warn("Temp sweep failed", "error", err)
			}
		}
	}
}
