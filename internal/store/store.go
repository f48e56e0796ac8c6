package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one launch of a worker as observed by the supervisor. Uniq keys
// the launch across processes; Signaled lists the previous PIDs that received
// the termination signal right before this launch.
type Record struct {
	ID         int64          `json:"id"`
	Worker     string         `json:"worker"`
	PID        int            `json:"pid"`
	Signaled   []int          `json:"signaled,omitempty"`
	LaunchedAt time.Time      `json:"launched_at"`
	ExitedAt   sql.NullTime   `json:"exited_at,omitzero"`
	ExitErr    sql.NullString `json:"exit_err,omitzero"`
	Running    bool           `json:"running"`
	Uniq       string         `json:"uniq"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Key returns the stable unique key for one launch.
func (r Record) Key() string {
	return fmt.Sprintf("%s|%d|%d", r.Worker, r.PID, r.LaunchedAt.UnixNano())
}

// Store persists launch records. Implementations are selected by DSN through
// the factory package; all writes are best-effort from the caller's point of
// view and must not block a restart.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordLaunch(ctx context.Context, rec Record) error
	RecordExit(ctx context.Context, uniq string, exitedAt time.Time, exitErr error) error
	ListByWorker(ctx context.Context, worker string, limit int) ([]Record, error)
	ListRunning(ctx context.Context) ([]Record, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// EncodePIDs renders a PID list for a TEXT column.
func EncodePIDs(pids []int) string {
	if len(pids) == 0 {
		return ""
	}
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ",")
}

// DecodePIDs parses what EncodePIDs produced; unparsable fragments are
// dropped.
func DecodePIDs(s string) []int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var pids []int
	for _, part := range strings.Split(s, ",") {
		pid, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
