//go:build windows

package media

import (
	"os/exec"
)

// setProcessGroup is a no-op on Windows; process groups are POSIX.
func setProcessGroup(_ *exec.Cmd) {}

// killProcessGroup kills the direct child process.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
