package client

import (
	"database/sql"
	"time"
)

// Status mirrors the daemon's status JSON for one worker.
type Status struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	PIDs       []int     `json:"pids,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
	CPUPercent float64   `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64    `json:"memory_rss,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// RestartResult mirrors the daemon's restart JSON: which pids were signaled
// and which pid came up.
type RestartResult struct {
	Worker    string    `json:"worker"`
	Signaled  []int     `json:"signaled,omitempty"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Record mirrors one launch history row.
type Record struct {
	ID         int64          `json:"id"`
	Worker     string         `json:"worker"`
	PID        int            `json:"pid"`
	Signaled   []int          `json:"signaled,omitempty"`
	LaunchedAt time.Time      `json:"launched_at"`
	ExitedAt   sql.NullTime   `json:"exited_at"`
	ExitErr    sql.NullString `json:"exit_err"`
	Running    bool           `json:"running"`
	Uniq       string         `json:"uniq"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type stopResponse struct {
	OK       bool  `json:"ok"`
	Signaled []int `json:"signaled,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
