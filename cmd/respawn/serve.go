package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicwh1988/respawn/internal/config"
	"github.com/nicwh1988/respawn/internal/cron"
	"github.com/nicwh1988/respawn/internal/history"
	histfactory "github.com/nicwh1988/respawn/internal/history/factory"
	"github.com/nicwh1988/respawn/internal/launcher"
	"github.com/nicwh1988/respawn/internal/manager"
	"github.com/nicwh1988/respawn/internal/metrics"
	"github.com/nicwh1988/respawn/internal/notify"
	"github.com/nicwh1988/respawn/internal/server"
	storefactory "github.com/nicwh1988/respawn/internal/store/factory"
	"github.com/nicwh1988/respawn/internal/worker"
)

// processSampleInterval paces the gopsutil refresh of the per-worker gauges.
const processSampleInterval = 15 * time.Second

// runServe is daemon mode: bring every worker up, keep them cycling on their
// schedules, reap exits into the launch history and serve the REST API until
// SIGINT or SIGTERM. Workers run in their own sessions, so they outlive the
// daemon when it goes down.
func runServe(flags ServeFlags) error {
	if flags.Daemonize {
		// Re-execs in a new session and exits the parent; falls through
		// only when already detached (parent is init).
		if err := daemonize(flags.PIDFile, flags.LogFile); err != nil {
			return err
		}
	}
	if _, err := launcher.PinWorkDir(); err != nil {
		return err
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}

	log, logCloser := cfg.Log.New()
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	mgr := manager.New(launcher.New(log), log)
	defer func() { _ = mgr.Close() }()
	mgr.EnableReaping(true)
	mgr.SetGlobalEnv(cfg.Env)
	if err := mgr.Apply(cfg.Workers); err != nil {
		return err
	}
	if err := wireStores(mgr, cfg, log); err != nil {
		return err
	}
	if cfg.Notify.WebhookURL != "" {
		mgr.SetNotifier(notify.New(cfg.Notify))
	}

	if flags.PIDFile != "" {
		if err := writePidFile(flags.PIDFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer func() { _ = removePidFile(flags.PIDFile) }()
	}

	// Bring the workers up before schedules and API take over. A failed
	// spawn is not fatal here; the schedule or an API call can retry it.
	if results, err := mgr.RestartAll(context.Background()); err != nil {
		log.Warn("initial restart incomplete", "error", err)
	} else {
		log.Info("workers launched", "count", len(results))
	}

	sched := cron.NewScheduler(mgr, log)
	syncSchedules(sched, mgr.Specs(), log)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	if cfg.Path != "" {
		w := config.NewWatcher(cfg.Path, func(next *config.Config) {
			applyReload(mgr, sched, next, log)
		}, log)
		if err := w.Start(); err != nil {
			log.Warn("config watcher not started", "error", err)
		} else {
			defer w.Stop()
		}
	}

	if cfg.Server.Enabled {
		srv, err := server.NewServer(cfg.Server, mgr, log)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
	}

	samplerCtx, cancelSampler := context.WithCancel(context.Background())
	defer cancelSampler()
	go sampleLoop(samplerCtx, mgr)

	log.Info("daemon ready", "workers", len(mgr.Specs()), "config", cfg.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	return nil
}

// wireStores attaches the launch record store and the streaming sinks.
func wireStores(mgr *manager.Manager, cfg *config.Config, log *slog.Logger) error {
	if cfg.Store.DSN != "" {
		st, err := storefactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := mgr.SetStore(st); err != nil {
			_ = st.Close()
			return err
		}
		log.Info("launch store ready", "dsn", redactDSN(cfg.Store.DSN))
	}
	if len(cfg.History.Sinks) == 0 {
		return nil
	}
	sinks := make([]history.Sink, 0, len(cfg.History.Sinks))
	for _, dsn := range cfg.History.Sinks {
		s, err := histfactory.NewSinkFromDSN(dsn)
		if err != nil {
			return fmt.Errorf("history sink %s: %w", redactDSN(dsn), err)
		}
		sinks = append(sinks, s)
	}
	mgr.SetHistorySinks(sinks...)
	log.Info("history sinks attached", "count", len(sinks))
	return nil
}

// applyReload swaps in the reloaded worker set and resyncs schedules. Store,
// sinks and the API server keep their boot-time wiring; changing those needs
// a daemon restart.
func applyReload(mgr *manager.Manager, sched *cron.Scheduler, next *config.Config, log *slog.Logger) {
	if err := mgr.Apply(next.Workers); err != nil {
		log.Warn("config reload rejected", "error", err)
		return
	}
	mgr.SetGlobalEnv(next.Env)
	syncSchedules(sched, next.Workers, log)
	log.Info("config reloaded", "workers", len(next.Workers))
}

// syncSchedules reconciles the scheduler with the desired worker set.
func syncSchedules(sched *cron.Scheduler, specs []worker.Spec, log *slog.Logger) {
	desired := make(map[string]string, len(specs))
	for _, sp := range specs {
		if sp.Schedule != "" {
			desired[sp.Name] = sp.Schedule
		}
	}
	for _, e := range sched.Entries() {
		want, ok := desired[e.Worker]
		if ok && want == e.Schedule {
			delete(desired, e.Worker)
			continue
		}
		sched.Remove(e.Worker)
		if !ok {
			log.Info("schedule removed", "worker", e.Worker)
		}
	}
	for name, expr := range desired {
		if err := sched.Add(name, expr); err != nil {
			log.Warn("schedule rejected", "worker", name, "schedule", expr, "error", err)
			continue
		}
		log.Info("schedule set", "worker", name, "schedule", expr)
	}
}

// sampleLoop keeps the per-worker process gauges fresh while the daemon runs.
func sampleLoop(ctx context.Context, mgr *manager.Manager) {
	t := time.NewTicker(processSampleInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mgr.StatusAll()
		}
	}
}

// redactDSN strips credentials before a DSN reaches the logs.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
