//go:build unix

package scanning

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts cmd in a new process group so that scripts
// and helpers spawned by the scanner are killed together with it.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
