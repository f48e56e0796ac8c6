package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/nicwh1988/respawn/internal/detector"
	"github.com/nicwh1988/respawn/internal/worker"
)

// Launcher performs the kill, pause, relaunch sequence for one worker at a
// time. It holds no state between calls; serialization of concurrent restarts
// for the same worker is the caller's job.
type Launcher struct {
	logger *slog.Logger
}

// Result reports what one restart did.
type Result struct {
	Worker    string    `json:"worker"`
	Signaled  []int     `json:"signaled,omitempty"` // previous PIDs that received the termination signal
	PID       int       `json:"pid"`                // the freshly started worker
	StartedAt time.Time `json:"started_at"`

	// Cmd is the started command. The worker is a direct child of this
	// process: long-lived callers reap it with Wait, one-shot callers just
	// exit and leave it to init.
	Cmd *exec.Cmd `json:"-"`
}

func New(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{logger: logger}
}

// PinWorkDir switches the process into the directory holding its own
// executable and returns that directory. Everything downstream resolves
// relative paths against it, so failure here is fatal for the caller: running
// against an unintended directory must not happen.
func PinWorkDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	dir := filepath.Dir(exe)
	if err := os.Chdir(dir); err != nil {
		return "", fmt.Errorf("enter %s: %w", dir, err)
	}
	return dir, nil
}

// Restart terminates every process matching the worker's signature, waits out
// the grace period, and starts a fresh instance detached from the terminal.
//
// Termination is best-effort on both ends: a failed scan and a failed signal
// each mean there is nothing to clean up, and neither blocks the relaunch.
// Only a failed spawn makes Restart return an error.
func (l *Launcher) Restart(ctx context.Context, spec worker.Spec) (*Result, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	res := &Result{Worker: spec.Name}

	det := detector.CmdlineDetector{Pattern: spec.Match}
	pids, err := det.Find()
	if err != nil {
		l.logger.Debug("process scan failed", "worker", spec.Name, "error", err)
	}
	for _, pid := range pids {
		if err := Terminate(pid); err != nil {
			l.logger.Debug("terminate failed", "worker", spec.Name, "pid", pid, "error", err)
			continue
		}
		res.Signaled = append(res.Signaled, pid)
	}
	if len(res.Signaled) > 0 {
		l.logger.Info("terminated previous instances", "worker", spec.Name, "pids", res.Signaled)
	}

	// The pause is a fixed heuristic, not a confirmation: nothing below
	// verifies that the signaled processes are actually gone.
	if err := sleepCtx(ctx, spec.GracePeriod); err != nil {
		return res, err
	}

	cmd, err := l.spawn(spec)
	if err != nil {
		return res, err
	}
	res.PID = cmd.Process.Pid
	res.StartedAt = time.Now()
	res.Cmd = cmd

	if spec.PIDFile != "" {
		if werr := detector.WritePIDFile(spec.PIDFile, res.PID); werr != nil {
			l.logger.Warn("write pidfile failed", "worker", spec.Name, "path", spec.PIDFile, "error", werr)
		}
	}
	l.logger.Info("worker started", "worker", spec.Name, "pid", res.PID, "log", spec.LogPath)
	return res, nil
}

func (l *Launcher) spawn(spec worker.Spec) (*exec.Cmd, error) {
	logf, err := openWorkerLog(spec.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open worker log %s: %w", spec.LogPath, err)
	}
	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Stdin stays nil so the worker reads from the null device. Both output
	// streams share one descriptor, exactly like ">> log 2>&1".
	cmd.Stdout = logf
	cmd.Stderr = logf
	detachSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		_ = logf.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Command(), err)
	}
	// The child owns its copy of the descriptor now.
	_ = logf.Close()
	return cmd, nil
}

// openWorkerLog opens the worker log for appending, creating it on first use.
// The file is never truncated or rotated here: every run of the worker keeps
// appending to the same history.
func openWorkerLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// ReportLine renders the confirmation printed after a successful relaunch.
func ReportLine(label string, pid int) string {
	return fmt.Sprintf("%s, pid: %d", label, pid)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
