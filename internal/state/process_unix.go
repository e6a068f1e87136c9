//go:build !windows

package state

import (
	"errors"

	"golang.org/x/sys/unix"
)

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	// EPERM means the process exists under another user.
	return err == nil || errors.Is(err, unix.EPERM)
}
