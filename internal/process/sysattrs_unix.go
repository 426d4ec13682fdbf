//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// ConfigureSysProcAttr places the child in its own process group so a graceful
// stop signals the whole group, not just the immediate child.
func ConfigureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
