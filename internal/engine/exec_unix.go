//go:build !windows

package engine

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// isolate runs cmd in its own process group so cancellation reaches the
// command and everything it spawned. The group gets SIGTERM first and
// SIGKILL once grace has passed.
func isolate(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		group := -cmd.Process.Pid
		return escalate(
			func() error { return unix.Kill(group, unix.SIGTERM) },
			func() error {
				// ESRCH once the group has exited is expected.
				if err := unix.Kill(group, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
					return err
				}
				return nil
			},
			grace,
		)
	}
	cmd.WaitDelay = grace + time.Second
}
