package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nicwh1988/respawn/internal/launcher"
)

// Restarter is the slice of the manager the scheduler needs.
type Restarter interface {
	Restart(ctx context.Context, name string) (*launcher.Result, error)
}

// job tracks one scheduled worker. The running flag is the non-overlap
// guard: a tick that lands while the previous restart is still in flight
// is skipped, not queued.
type job struct {
	worker   string
	schedule string
	entryID  cron.EntryID
	running  atomic.Bool
}

// Scheduler fires worker restarts on their configured schedules.
// Schedules use the standard five-field cron syntax or the
// "@every <duration>" descriptor; sub-second periods round up to a second.
type Scheduler struct {
	restarter Restarter
	logger    *slog.Logger
	cron      *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
}

func NewScheduler(r Restarter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		restarter: r,
		logger:    logger,
		cron:      cron.New(),
		jobs:      make(map[string]*job),
	}
}

// ValidateSchedule reports whether expr is accepted by the scheduler.
func ValidateSchedule(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// Add registers a worker under its schedule. Adding after Start is allowed;
// the new entry joins the running scheduler.
func (s *Scheduler) Add(worker, schedule string) error {
	if worker == "" {
		return errors.New("cron: worker name required")
	}
	if schedule == "" {
		return errors.New("cron: schedule required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[worker]; ok {
		return fmt.Errorf("cron: worker %q already scheduled", worker)
	}
	j := &job{worker: worker, schedule: schedule}
	id, err := s.cron.AddFunc(schedule, func() { s.fire(j) })
	if err != nil {
		return fmt.Errorf("cron: schedule %q for %s: %w", schedule, worker, err)
	}
	j.entryID = id
	s.jobs[worker] = j
	return nil
}

// Remove drops a worker's schedule. Unknown names are ignored; an in-flight
// restart fired by the removed entry is left to finish.
func (s *Scheduler) Remove(worker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[worker]
	if !ok {
		return
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, worker)
}

// fire runs in the entry's own goroutine; the CAS keeps at most one restart
// of a given worker in flight.
func (s *Scheduler) fire(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Debug("previous restart still in flight, skipping tick", "worker", j.worker)
		return
	}
	defer j.running.Store(false)
	if _, err := s.restarter.Restart(context.Background(), j.worker); err != nil {
		s.logger.Error("scheduled restart failed", "worker", j.worker, "error", err)
		return
	}
	s.logger.Info("scheduled restart completed", "worker", j.worker)
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("cron: scheduler already started")
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("cron scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels future ticks and waits for in-flight restarts to finish.
// Safe to call more than once or before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("cron scheduler stopped")
}

// Entry describes one scheduled worker.
type Entry struct {
	Worker   string    `json:"worker"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

// Entries lists scheduled workers sorted by name. Next is zero until the
// scheduler has started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, Entry{
			Worker:   j.worker,
			Schedule: j.schedule,
			Next:     s.cron.Entry(j.entryID).Next,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Worker < out[k].Worker })
	return out
}
