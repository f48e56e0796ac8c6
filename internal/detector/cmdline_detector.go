package detector

import (
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// CmdlineDetector matches every process whose full command line contains
// Pattern as a plain substring. The rule is deliberately as coarse as
// pkill -f: an unrelated process that merely mentions the pattern in one of
// its arguments is matched too. Pair it with a PIDFileDetector when exact
// identity matters.
type CmdlineDetector struct{ Pattern string }

func (d CmdlineDetector) Find() ([]int, error) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	var pids []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			// Raced exit, permission denied, or a zombie with no argv left.
			continue
		}
		if strings.Contains(cmdline, d.Pattern) {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}

func (d CmdlineDetector) Describe() string { return "cmdline:" + d.Pattern }
