package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const lockFile = ".sweep.lock"

// ErrLockHeld is returned by Lock when another process already holds the
// sweep lock. Callers treat it as "skip this sweep", not a failure.
var ErrLockHeld = errors.New("sweep lock is held by another process")

// Locker provides file-based locking for temp-root sweeps. It prevents
// concurrent daemons pointed at the same TEMP_ROOT from double-sweeping.
type Locker struct {
	tempRoot string
	file     *os.File
}

// NewLocker creates a Locker for the given temp root.
func NewLocker(tempRoot string) *Locker {
	return &Locker{tempRoot: tempRoot}
}

// lockPath returns the full path to the lock file.
func (l *Locker) lockPath() string {
	return filepath.Join(l.tempRoot, lockFile)
}

// Lock acquires an exclusive non-blocking file lock. Returns ErrLockHeld if
// another process holds it, or an error if the locker already holds a lock.
func (l *Locker) Lock() error {
	if l.file != nil {
		return fmt.Errorf("locker already holds a lock")
	}

	if err := os.MkdirAll(l.tempRoot, dirPerm); err != nil {
		return fmt.Errorf("failed to create temp root: %w", err)
	}

	f, err := os.OpenFile(l.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFileExclusive(f); err != nil {
		_ = f.Close()
		return err
	}

	l.file = f
	return nil
}

// Unlock releases the lock and removes the lock file.
// If no lock is held, Unlock is a no-op and returns nil.
func (l *Locker) Unlock() error {
	if l.file == nil {
		return nil
	}

	if err := unlockFile(l.file); err != nil {
		return fmt.Errorf("failed to release sweep lock: %w", err)
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	// Best-effort removal of the lock file.
	_ = os.Remove(l.lockPath())

	l.file = nil
	return nil
}
