package worker

import "time"

// Status is a point-in-time view of one worker.
type Status struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	PIDs       []int     `json:"pids,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
	CPUPercent float64   `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64    `json:"memory_rss,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}
