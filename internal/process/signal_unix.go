//go:build !windows

package process

import "syscall"

// Terminate sends SIGTERM to the child's process group. This is the single
// graceful signal the supervisor delivers; there is no escalation unless the
// caller follows up with Kill.
func Terminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// Kill sends SIGKILL to the child's process group.
func Kill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// Exists reports whether a process with the given pid is present.
func Exists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
