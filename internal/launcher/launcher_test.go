package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nicwh1988/respawn/internal/detector"
	"github.com/nicwh1988/respawn/internal/worker"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

// newTestSpec builds a spec whose script file name carries a unique marker,
// so the derived match signature cannot collide with anything else running
// on the host.
func newTestSpec(t *testing.T, body string) worker.Spec {
	t.Helper()
	dir := t.TempDir()
	marker := fmt.Sprintf("respawn-launch-%d-%d", os.Getpid(), time.Now().UnixNano())
	script := filepath.Join(dir, marker+".sh")
	if err := os.WriteFile(script, []byte(body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return worker.Spec{
		Name:        "crawler",
		Interpreter: "sh",
		Script:      script,
		LogPath:     filepath.Join(dir, "worker.log"),
		GracePeriod: 50 * time.Millisecond,
	}
}

func reap(t *testing.T, res *Result) {
	t.Helper()
	if res == nil || res.Cmd == nil || res.Cmd.Process == nil {
		return
	}
	_ = res.Cmd.Process.Kill()
	_ = res.Cmd.Wait()
}

func waitLogContains(t *testing.T, path, substr string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(path)
		if err == nil && strings.Contains(string(b), substr) {
			return string(b)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("log %s never contained %q", path, substr)
	return ""
}

func TestRestartStartsFreshWorker(t *testing.T) {
	requireUnix(t)
	spec := newTestSpec(t, "echo ready; while :; do sleep 1; done")
	l := New(nil)

	res, err := l.Restart(context.Background(), spec)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	defer reap(t, res)

	if res.PID <= 0 {
		t.Fatalf("expected positive pid, got %d", res.PID)
	}
	if len(res.Signaled) != 0 {
		t.Fatalf("nothing was running, yet signaled %v", res.Signaled)
	}
	waitLogContains(t, spec.LogPath, "ready")

	d := detector.CmdlineDetector{Pattern: spec.Script}
	pids, err := d.Find()
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	found := false
	for _, pid := range pids {
		if pid == res.PID {
			found = true
		}
	}
	if !found {
		t.Fatalf("started worker %d not found by its signature, got %v", res.PID, pids)
	}
}

func TestRestartReplacesPreviousInstance(t *testing.T) {
	requireUnix(t)
	spec := newTestSpec(t, "while :; do sleep 1; done")
	l := New(nil)

	first, err := l.Restart(context.Background(), spec)
	if err != nil {
		t.Fatalf("first Restart: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	second, err := l.Restart(context.Background(), spec)
	if err != nil {
		t.Fatalf("second Restart: %v", err)
	}
	defer reap(t, second)

	signaled := false
	for _, pid := range second.Signaled {
		if pid == first.PID {
			signaled = true
		}
	}
	if !signaled {
		t.Fatalf("previous pid %d not signaled, got %v", first.PID, second.Signaled)
	}
	if second.PID == first.PID {
		t.Fatalf("new worker reused pid %d", first.PID)
	}
	// The first instance is our child: Wait confirms the signal ended it.
	if err := first.Cmd.Wait(); err == nil {
		t.Fatalf("first instance exited cleanly, expected termination by signal")
	}
}

func TestRestartAppendsToExistingLog(t *testing.T) {
	requireUnix(t)
	spec := newTestSpec(t, "echo second run")
	if err := os.WriteFile(spec.LogPath, []byte("first run\n"), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	res, err := New(nil).Restart(context.Background(), spec)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	_ = res.Cmd.Wait()

	b, err := os.ReadFile(spec.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(b)
	i, j := strings.Index(s, "first run"), strings.Index(s, "second run")
	if i < 0 || j < 0 || j < i {
		t.Fatalf("log not appended in order:\n%s", s)
	}
}

func TestRestartSpawnFailureSurfaces(t *testing.T) {
	requireUnix(t)
	spec := newTestSpec(t, "true")
	spec.Interpreter = "respawn-missing-interpreter"

	res, err := New(nil).Restart(context.Background(), spec)
	if err == nil {
		t.Fatalf("expected spawn error")
	}
	if !strings.Contains(err.Error(), "start") {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.PID != 0 {
		t.Fatalf("no pid should be reported on spawn failure, got %+v", res)
	}
}

func TestRestartUnwritableLogPath(t *testing.T) {
	requireUnix(t)
	spec := newTestSpec(t, "true")
	spec.LogPath = filepath.Join(t.TempDir(), "missing-dir", "worker.log")

	_, err := New(nil).Restart(context.Background(), spec)
	if err == nil || !strings.Contains(err.Error(), "open worker log") {
		t.Fatalf("expected log open error, got %v", err)
	}
}

func TestRestartContextCanceledDuringGrace(t *testing.T) {
	requireUnix(t)
	spec := newTestSpec(t, "while :; do sleep 1; done")
	spec.GracePeriod = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := New(nil).Restart(ctx, spec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancel did not interrupt the grace wait (took %v)", elapsed)
	}

	d := detector.CmdlineDetector{Pattern: spec.Script}
	pids, _ := d.Find()
	if len(pids) != 0 {
		t.Fatalf("no worker should have spawned after cancel, got %v", pids)
	}
}

func TestRestartWorkerInheritsWorkDir(t *testing.T) {
	requireUnix(t)
	spec := newTestSpec(t, "pwd")
	workDir := t.TempDir()
	spec.WorkDir = workDir

	res, err := New(nil).Restart(context.Background(), spec)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	_ = res.Cmd.Wait()
	waitLogContains(t, spec.LogPath, filepath.Base(workDir))
}

func TestRestartWritesPIDFile(t *testing.T) {
	requireUnix(t)
	spec := newTestSpec(t, "while :; do sleep 1; done")
	spec.PIDFile = filepath.Join(t.TempDir(), "crawler.pid")

	res, err := New(nil).Restart(context.Background(), spec)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	defer reap(t, res)

	d := detector.PIDFileDetector{PIDFile: spec.PIDFile}
	pids, err := d.Find()
	if err != nil {
		t.Fatalf("pidfile Find: %v", err)
	}
	if len(pids) != 1 || pids[0] != res.PID {
		t.Fatalf("pidfile should identify %d, got %v", res.PID, pids)
	}
}

func TestPinWorkDir(t *testing.T) {
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer func() { _ = os.Chdir(orig) }()

	dir, err := PinWorkDir()
	if err != nil {
		t.Fatalf("PinWorkDir: %v", err)
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Dir(exe))
	got, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Fatalf("pinned %q, want %q", got, want)
	}
	cwd, _ := os.Getwd()
	if resolved, _ := filepath.EvalSymlinks(cwd); resolved != want {
		t.Fatalf("cwd %q, want %q", resolved, want)
	}
}

func TestReportLine(t *testing.T) {
	got := ReportLine("weibo-crawler started", 4242)
	if got != "weibo-crawler started, pid: 4242" {
		t.Fatalf("report line: %q", got)
	}
}
