//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// detachSysProcAttr puts the worker in a fresh session. As session leader it
// has no controlling terminal, so a hangup on the launcher's terminal can
// never reach it and it keeps running after the launcher exits.
func detachSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
