//go:build windows

package process

import (
	"os"
)

// Terminate kills the process on Windows; there is no portable graceful
// signal, so stop and kill behave the same here.
func Terminate(pid int) error {
	return Kill(pid)
}

// Kill terminates the process by pid.
func Kill(pid int) error {
	if pid < 0 {
		pid = -pid
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

// Exists reports whether a process with the given pid is present.
func Exists(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Release() == nil
}
