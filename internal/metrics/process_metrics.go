package metrics

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Sample is a point-in-time resource reading for one process.
type Sample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleProcess reads CPU and memory usage for pid via gopsutil. Partial
// readings are fine: a field that cannot be read stays zero.
func SampleProcess(pid int) (Sample, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Sample{}, err
	}
	s := Sample{PID: pid, Timestamp: time.Now()}
	if cpu, err := p.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		s.MemoryRSS = mi.RSS
	}
	if threads, err := p.NumThreads(); err == nil {
		s.NumThreads = threads
	}
	return s, nil
}

// Publish pushes one worker's sample into the gauges.
func Publish(worker string, s Sample) {
	SetWorkerUp(worker, true)
	SetWorkerCPU(worker, s.CPUPercent)
	SetWorkerRSS(worker, s.MemoryRSS)
}

// ClearWorker marks a worker as down and zeroes its resource gauges.
func ClearWorker(worker string) {
	SetWorkerUp(worker, false)
	SetWorkerCPU(worker, 0)
	SetWorkerRSS(worker, 0)
}
