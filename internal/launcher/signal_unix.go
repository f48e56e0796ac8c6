//go:build !windows

package launcher

import "syscall"

// Terminate sends SIGTERM to one exact pid, never to a whole group. Callers
// treat a failure as "nothing to clean up": the process may have exited
// between detection and delivery, or belong to another user.
func Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// Kill sends SIGKILL, used to escalate when a stop deadline passes.
func Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
