//go:build windows

package engine

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// isolate starts cmd in a new process group. Cancellation sends the group
// CTRL_BREAK first and kills the command process once grace has passed.
func isolate(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	cmd.Cancel = func() error {
		return escalate(
			func() error {
				return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(cmd.Process.Pid))
			},
			func() error {
				if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
					return err
				}
				return nil
			},
			grace,
		)
	}
	cmd.WaitDelay = grace + time.Second
}
