//go:build !windows

package detector

import (
	"errors"
	"syscall"
)

// Alive reports whether a process with the given pid exists. EPERM still
// means the process is there, just owned by someone else.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
