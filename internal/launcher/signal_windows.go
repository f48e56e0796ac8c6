//go:build windows

package launcher

import "os"

// Terminate ends one exact pid. Windows has no polite termination signal, so
// this is the same hard stop as Kill.
func Terminate(pid int) error {
	return killProcess(pid)
}

// Kill ends one exact pid.
func Kill(pid int) error {
	return killProcess(pid)
}

func killProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
