//go:build !windows

package daemon

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsProcessAlive reports whether pid names a running process. A process
// owned by another user still counts as alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
