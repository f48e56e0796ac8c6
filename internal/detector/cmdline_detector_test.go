package detector

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func uniqueMarker() string {
	return fmt.Sprintf("respawn-detector-%d-%d", os.Getpid(), time.Now().UnixNano())
}

// startMarked starts a shell whose command line carries marker so the scan
// cannot collide with anything else running on the host.
func startMarked(t *testing.T, marker string) *exec.Cmd {
	t.Helper()
	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", ": "+marker+"; sleep 5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start marked process: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	// Allow the process to appear in the process table.
	time.Sleep(50 * time.Millisecond)
	return cmd
}

func TestCmdlineDetectorFindsMarkedProcess(t *testing.T) {
	requireUnix(t)
	marker := uniqueMarker()
	cmd := startMarked(t, marker)

	d := CmdlineDetector{Pattern: marker}
	pids, err := d.Find()
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	found := false
	for _, pid := range pids {
		if pid == cmd.Process.Pid {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pid %d among matches, got %v", cmd.Process.Pid, pids)
	}
}

func TestCmdlineDetectorNoMatch(t *testing.T) {
	d := CmdlineDetector{Pattern: uniqueMarker()}
	pids, err := d.Find()
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(pids) != 0 {
		t.Fatalf("expected no matches, got %v", pids)
	}
}

func TestCmdlineDetectorExcludesSelf(t *testing.T) {
	// The test binary's own command line contains its executable path, so a
	// pattern derived from it would match us if self-exclusion broke.
	d := CmdlineDetector{Pattern: os.Args[0]}
	pids, err := d.Find()
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	for _, pid := range pids {
		if pid == os.Getpid() {
			t.Fatalf("detector matched its own process %d", pid)
		}
	}
}

func TestCmdlineDetectorDescribe(t *testing.T) {
	d := CmdlineDetector{Pattern: "python weibo.py"}
	if d.Describe() != "cmdline:python weibo.py" {
		t.Fatalf("Describe mismatch: %q", d.Describe())
	}
}
