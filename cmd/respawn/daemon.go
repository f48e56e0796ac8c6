package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// daemonize re-execs the current invocation in its own session, detached
// from the terminal, and exits the parent. The child sees the same command
// line minus the daemon flags; the parent writes the pidfile so there is
// exactly one writer. Returns without doing anything when the process is
// already detached (init is the parent).
func daemonize(pidFile, logFile string) error {
	if os.Getppid() == 1 {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	// #nosec G204 -- re-exec of our own binary
	cmd := exec.Command(exe, stripDaemonFlags(os.Args[1:])...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon log %s: %w", logFile, err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if pidFile != "" {
		if err := writePidFile(pidFile, cmd.Process.Pid); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
	}
	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// stripDaemonFlags removes --daemonize, --pidfile and --logfile so the
// re-execed child runs in the foreground and leaves the pidfile alone.
func stripDaemonFlags(args []string) []string {
	out := make([]string, 0, len(args))
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		switch {
		case a == "--daemonize":
		case a == "--pidfile" || a == "--logfile":
			skip = true
		case strings.HasPrefix(a, "--daemonize="),
			strings.HasPrefix(a, "--pidfile="),
			strings.HasPrefix(a, "--logfile="):
		default:
			out = append(out, a)
		}
	}
	return out
}

func writePidFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func removePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}
