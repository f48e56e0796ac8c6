package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFileDetector locates a worker through the PID file the launcher wrote
// for it. Unlike a command-line scan this identifies one exact process: the
// recorded start time is compared against the live process, so a recycled
// PID is never mistaken for the worker.
type PIDFileDetector struct {
	PIDFile string
}

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

func (d PIDFileDetector) Find() ([]int, error) {
	pid, meta, err := readPIDFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if meta.StartUnix > 0 {
		if cur := getProcStartUnix(pid); cur > 0 && cur != meta.StartUnix {
			// PID recycled since the file was written; not our process.
			return nil, nil
		}
	}
	if !Alive(pid) {
		return nil, nil
	}
	return []int{pid}, nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// WritePIDFile records pid together with its start time so that later reads
// can tell the original process apart from a recycled PID.
func WritePIDFile(path string, pid int) error {
	mb, err := json.Marshal(pidMeta{StartUnix: getProcStartUnix(pid)})
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(mb) + "\n"
	return os.WriteFile(path, []byte(content), 0o644)
}

// readPIDFile parses a PID file: first line is the PID, an optional second
// line carries the start-time meta. Files written by hand with only a bare
// PID are accepted.
func readPIDFile(path string) (int, pidMeta, error) {
	var meta pidMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, meta, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pidStr := strings.TrimSpace(lines[0])
	if pidStr == "" {
		return 0, meta, fmt.Errorf("empty pidfile: %s", path)
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if len(lines) >= 2 && strings.TrimSpace(lines[1]) != "" {
		_ = json.Unmarshal([]byte(lines[1]), &meta)
	}
	return pid, meta, nil
}
