//go:build unix

package latex

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killProcessGroup runs the compiler in its own process group and makes
// cancellation kill the whole group, including any children it forked.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
