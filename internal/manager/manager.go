// Package manager coordinates restarts across the configured worker set. It
// serializes operations per worker and fans each outcome out to the store,
// the history sinks, the notifier and the metrics registry.
package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/nicwh1988/respawn/internal/detector"
	"github.com/nicwh1988/respawn/internal/env"
	"github.com/nicwh1988/respawn/internal/history"
	"github.com/nicwh1988/respawn/internal/launcher"
	"github.com/nicwh1988/respawn/internal/metrics"
	"github.com/nicwh1988/respawn/internal/notify"
	"github.com/nicwh1988/respawn/internal/store"
	"github.com/nicwh1988/respawn/internal/worker"
)

// ErrUnknownWorker reports an operation against a name that is not part of
// the configured worker set.
var ErrUnknownWorker = errors.New("unknown worker")

const (
	defaultStopWait  = 3 * time.Second
	stopPollInterval = 50 * time.Millisecond
)

// workerEntry pairs a spec with the locks ordering operations on one worker.
// opMu serializes restart and stop; mu only guards the spec and is never held
// across process operations.
type workerEntry struct {
	opMu sync.Mutex
	mu   sync.Mutex
	spec worker.Spec
}

func (e *workerEntry) Spec() worker.Spec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spec.Clone()
}

func (e *workerEntry) setSpec(s worker.Spec) {
	e.mu.Lock()
	e.spec = s
	e.mu.Unlock()
}

// Manager owns the configured workers and the bookkeeping around restarting
// them. The launcher does the actual process work; everything here is
// serialization and fan-out.
type Manager struct {
	launcher *launcher.Launcher
	logger   *slog.Logger

	mu       sync.RWMutex
	envM     *env.Env
	st       store.Store
	sinks    []history.Sink
	notifier *notify.Notifier
	reap     bool
	entries  map[string]*workerEntry
	order    []string
}

// New builds an empty Manager. Either argument may be nil.
func New(l *launcher.Launcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if l == nil {
		l = launcher.New(logger)
	}
	return &Manager{
		launcher: l,
		logger:   logger,
		envM:     env.New(),
		entries:  make(map[string]*workerEntry),
	}
}

// Apply replaces the configured worker set. Entries for names that survive
// the swap are reused, so an in-flight restart still serializes with later
// operations on the same worker.
func (m *Manager) Apply(specs []worker.Spec) error {
	prepared := make([]worker.Spec, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for i := range specs {
		s := specs[i].Clone()
		s.Normalize()
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate worker name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		prepared = append(prepared, s)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make(map[string]*workerEntry, len(prepared))
	order := make([]string, 0, len(prepared))
	for _, s := range prepared {
		e := m.entries[s.Name]
		if e == nil {
			e = &workerEntry{}
		}
		e.setSpec(s)
		entries[s.Name] = e
		order = append(order, s.Name)
	}
	m.entries = entries
	m.order = order
	return nil
}

// SetGlobalEnv replaces the extra environment entries shared by all workers.
func (m *Manager) SetGlobalEnv(kvs []string) {
	e := env.New()
	e.SetAll(kvs)
	m.mu.Lock()
	m.envM = e
	m.mu.Unlock()
}

// SetStore wires the persistence backend and makes sure its schema exists.
// A nil store turns persistence off.
func (m *Manager) SetStore(st store.Store) error {
	m.mu.Lock()
	m.st = st
	m.mu.Unlock()
	if st == nil {
		return nil
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("ensure store schema: %w", err)
	}
	return nil
}

// SetHistorySinks replaces the history sinks. Sends are best-effort.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// SetNotifier wires the push notifier used by workers with notify enabled.
func (m *Manager) SetNotifier(n *notify.Notifier) {
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

// EnableReaping makes the manager collect each started worker with Wait and
// record its exit. Long-lived callers turn this on; the one-shot CLI leaves
// children to init instead.
func (m *Manager) EnableReaping(on bool) {
	m.mu.Lock()
	m.reap = on
	m.mu.Unlock()
}

// Specs returns the configured workers in configuration order.
func (m *Manager) Specs() []worker.Spec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]worker.Spec, 0, len(m.order))
	for _, name := range m.order {
		if e := m.entries[name]; e != nil {
			out = append(out, e.Spec())
		}
	}
	return out
}

func (m *Manager) entry(name string) (*workerEntry, error) {
	m.mu.RLock()
	e := m.entries[name]
	m.mu.RUnlock()
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	return e, nil
}

func (m *Manager) names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Restart runs the kill, pause, relaunch sequence for one worker and records
// the outcome. Concurrent restarts of the same worker are serialized; store,
// sink and notifier failures are logged, never propagated.
func (m *Manager) Restart(ctx context.Context, name string) (*launcher.Result, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	spec := e.Spec()
	m.mu.RLock()
	envM := m.envM
	m.mu.RUnlock()
	spec.Env = envM.Merge(spec.Env)

	res, err := m.launcher.Restart(ctx, spec)
	if err != nil {
		metrics.IncSpawnFailure(spec.Name)
		return res, err
	}
	metrics.IncRestart(spec.Name)
	metrics.AddSignals(spec.Name, len(res.Signaled))
	metrics.SetWorkerUp(spec.Name, true)

	rec := store.Record{
		Worker:     spec.Name,
		PID:        res.PID,
		Signaled:   append([]int(nil), res.Signaled...),
		LaunchedAt: res.StartedAt,
		Running:    true,
	}
	rec.Uniq = rec.Key()
	m.recordLaunch(ctx, rec)
	m.notifyRestart(ctx, spec, res)

	m.mu.RLock()
	reap := m.reap
	m.mu.RUnlock()
	if reap {
		go m.reapWorker(rec, res.Cmd)
	} else if res.Cmd != nil && res.Cmd.Process != nil {
		_ = res.Cmd.Process.Release()
	}
	return res, nil
}

// RestartAll restarts every configured worker in configuration order. All
// workers are attempted even when one fails; the first error is returned.
func (m *Manager) RestartAll(ctx context.Context) ([]*launcher.Result, error) {
	names := m.names()
	results := make([]*launcher.Result, 0, len(names))
	var firstErr error
	for _, name := range names {
		res, err := m.Restart(ctx, name)
		if err != nil {
			m.logger.Error("restart failed", "worker", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("restart %s: %w", name, err)
			}
			continue
		}
		results = append(results, res)
	}
	return results, firstErr
}

func (m *Manager) recordLaunch(ctx context.Context, rec store.Record) {
	m.mu.RLock()
	st := m.st
	sinks := append([]history.Sink(nil), m.sinks...)
	m.mu.RUnlock()

	if st != nil {
		if err := st.RecordLaunch(ctx, rec); err != nil {
			m.logger.Warn("record launch failed", "worker", rec.Worker, "error", err)
		}
	}
	now := time.Now()
	if len(rec.Signaled) > 0 {
		m.send(ctx, sinks, history.Event{Type: history.EventSignaled, OccurredAt: now, Record: rec})
	}
	m.send(ctx, sinks, history.Event{Type: history.EventLaunched, OccurredAt: now, Record: rec})
}

func (m *Manager) send(ctx context.Context, sinks []history.Sink, ev history.Event) {
	for _, s := range sinks {
		if err := s.Send(ctx, ev); err != nil {
			m.logger.Debug("history sink send failed",
				"type", string(ev.Type), "worker", ev.Record.Worker, "error", err)
		}
	}
}

func (m *Manager) notifyRestart(ctx context.Context, spec worker.Spec, res *launcher.Result) {
	if !spec.Notify {
		return
	}
	m.mu.RLock()
	n := m.notifier
	m.mu.RUnlock()
	if !n.Enabled() {
		return
	}
	if err := n.RestartNotice(ctx, spec.Name, res.PID, res.Signaled); err != nil {
		m.logger.Warn("restart notice failed", "worker", spec.Name, "error", err)
	}
}

// reapWorker collects the worker's exit and records it.
func (m *Manager) reapWorker(rec store.Record, cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	err := cmd.Wait()
	exitedAt := time.Now()

	m.mu.RLock()
	st := m.st
	sinks := append([]history.Sink(nil), m.sinks...)
	m.mu.RUnlock()

	ctx := context.Background()
	if st != nil {
		if serr := st.RecordExit(ctx, rec.Uniq, exitedAt, err); serr != nil {
			m.logger.Warn("record exit failed", "worker", rec.Worker, "error", serr)
		}
	}
	rec.Running = false
	rec.ExitedAt = sql.NullTime{Time: exitedAt, Valid: true}
	if err != nil {
		rec.ExitErr = sql.NullString{String: err.Error(), Valid: true}
	}
	m.send(ctx, sinks, history.Event{Type: history.EventExited, OccurredAt: exitedAt, Record: rec})
	metrics.ClearWorker(rec.Worker)
	if err != nil {
		m.logger.Info("worker exited", "worker", rec.Worker, "pid", rec.PID, "error", err)
	} else {
		m.logger.Info("worker exited", "worker", rec.Worker, "pid", rec.PID)
	}
}

// Stop signals every process matching the worker's signature and waits up to
// wait for them to disappear; survivors are killed. The returned slice lists
// the PIDs that received the termination signal. A wait of zero or less means
// the default.
func (m *Manager) Stop(ctx context.Context, name string, wait time.Duration) ([]int, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	spec := e.Spec()
	det := detector.CmdlineDetector{Pattern: spec.Match}
	pids, ferr := det.Find()
	if ferr != nil {
		return nil, fmt.Errorf("scan for %s: %w", spec.Name, ferr)
	}
	if len(pids) == 0 {
		m.logger.Debug("no running instances", "worker", spec.Name)
		metrics.ClearWorker(spec.Name)
		return nil, nil
	}

	signaled := make([]int, 0, len(pids))
	for _, pid := range pids {
		if terr := launcher.Terminate(pid); terr != nil {
			m.logger.Debug("terminate failed", "worker", spec.Name, "pid", pid, "error", terr)
			continue
		}
		signaled = append(signaled, pid)
	}

	if wait <= 0 {
		wait = defaultStopWait
	}
	deadline := time.Now().Add(wait)
	remaining := signaled
	for len(remaining) > 0 && time.Now().Before(deadline) {
		if serr := sleepCtx(ctx, stopPollInterval); serr != nil {
			return signaled, serr
		}
		remaining = survivors(det, signaled)
	}
	for _, pid := range remaining {
		m.logger.Warn("worker ignored termination, killing", "worker", spec.Name, "pid", pid)
		_ = launcher.Kill(pid)
	}
	metrics.ClearWorker(spec.Name)
	m.logger.Info("worker stopped", "worker", spec.Name, "signaled", signaled)
	return signaled, nil
}

// survivors returns the subset of pids the detector still reports. Signaled
// processes that became zombies drop out here because their command line
// reads empty.
func survivors(det detector.CmdlineDetector, pids []int) []int {
	found, err := det.Find()
	if err != nil {
		return nil
	}
	set := make(map[int]struct{}, len(found))
	for _, pid := range found {
		set[pid] = struct{}{}
	}
	var out []int
	for _, pid := range pids {
		if _, ok := set[pid]; ok {
			out = append(out, pid)
		}
	}
	return out
}

// Status reports whether processes matching the worker are currently running,
// without touching them. The command-line scan decides; a configured pidfile
// serves as fallback when the scan comes up empty.
func (m *Manager) Status(name string) (worker.Status, error) {
	e, err := m.entry(name)
	if err != nil {
		return worker.Status{}, err
	}
	spec := e.Spec()
	st := worker.Status{Name: spec.Name, CheckedAt: time.Now()}

	dets := []detector.Detector{detector.CmdlineDetector{Pattern: spec.Match}}
	if spec.PIDFile != "" {
		dets = append(dets, detector.PIDFileDetector{PIDFile: spec.PIDFile})
	}
	for _, det := range dets {
		pids, derr := det.Find()
		if derr != nil || len(pids) == 0 {
			continue
		}
		st.Running = true
		st.PIDs = pids
		st.DetectedBy = det.Describe()
		break
	}
	if !st.Running {
		metrics.SetWorkerUp(spec.Name, false)
		return st, nil
	}
	if s, serr := metrics.SampleProcess(st.PIDs[0]); serr == nil {
		st.CPUPercent = s.CPUPercent
		st.MemoryRSS = s.MemoryRSS
		metrics.Publish(spec.Name, s)
	}
	return st, nil
}

// StatusAll reports every configured worker in configuration order.
func (m *Manager) StatusAll() []worker.Status {
	names := m.names()
	out := make([]worker.Status, 0, len(names))
	for _, name := range names {
		st, err := m.Status(name)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out
}

// History returns the most recent launch records for one worker.
func (m *Manager) History(ctx context.Context, name string, limit int) ([]store.Record, error) {
	if _, err := m.entry(name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	st := m.st
	m.mu.RUnlock()
	if st == nil {
		return nil, errors.New("no store configured")
	}
	return st.ListByWorker(ctx, name, limit)
}

// Close releases the store and any closable history sinks.
func (m *Manager) Close() error {
	m.mu.Lock()
	st := m.st
	m.st = nil
	sinks := m.sinks
	m.sinks = nil
	m.mu.Unlock()

	var firstErr error
	if st != nil {
		if err := st.Close(); err != nil {
			firstErr = err
		}
	}
	for _, s := range sinks {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
