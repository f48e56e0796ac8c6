// Package respawn embeds the kill-and-relaunch supervisor in other programs.
//
// The facade mirrors what the respawn CLI does: load a TOML config, pin the
// working directory next to the executable, terminate stale worker instances
// and relaunch them detached with output appended to each worker's log.
package respawn

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/nicwh1988/respawn/internal/config"
	"github.com/nicwh1988/respawn/internal/history"
	histfactory "github.com/nicwh1988/respawn/internal/history/factory"
	"github.com/nicwh1988/respawn/internal/launcher"
	"github.com/nicwh1988/respawn/internal/manager"
	"github.com/nicwh1988/respawn/internal/metrics"
	"github.com/nicwh1988/respawn/internal/notify"
	iapi "github.com/nicwh1988/respawn/internal/server"
	"github.com/nicwh1988/respawn/internal/store"
	storefactory "github.com/nicwh1988/respawn/internal/store/factory"
	"github.com/nicwh1988/respawn/internal/worker"
)

// Re-exported core types, aliased so conversions are zero-cost.

type Spec = worker.Spec

type Status = worker.Status

type Record = store.Record

type RestartResult = launcher.Result

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Config = cfg.Config

// DefaultSpec is the zero-configuration worker: the crawler script next to
// the executable.
func DefaultSpec() Spec { return worker.DefaultSpec() }

// Manager is a thin facade over the internal restart manager.
type Manager struct{ inner *manager.Manager }

// New builds a manager with a stock launcher. A nil logger falls back to
// slog.Default().
func New(logger *slog.Logger) *Manager {
	return &Manager{inner: manager.New(launcher.New(logger), logger)}
}

// NewFromConfig builds a manager with c's workers, global environment and
// webhook already applied.
func NewFromConfig(c *Config, logger *slog.Logger) (*Manager, error) {
	m := New(logger)
	m.inner.SetGlobalEnv(c.Env)
	if err := m.inner.Apply(c.Workers); err != nil {
		return nil, err
	}
	if c.Notify.WebhookURL != "" {
		m.inner.SetNotifier(notify.New(c.Notify))
	}
	return m, nil
}

func (m *Manager) Apply(specs []Spec) error  { return m.inner.Apply(specs) }
func (m *Manager) SetGlobalEnv(kvs []string) { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) EnableReaping(on bool)     { m.inner.EnableReaping(on) }
func (m *Manager) Specs() []Spec             { return m.inner.Specs() }

func (m *Manager) Restart(ctx context.Context, name string) (*RestartResult, error) {
	return m.inner.Restart(ctx, name)
}

func (m *Manager) RestartAll(ctx context.Context) ([]*RestartResult, error) {
	return m.inner.RestartAll(ctx)
}

func (m *Manager) Stop(ctx context.Context, name string, wait time.Duration) ([]int, error) {
	return m.inner.Stop(ctx, name, wait)
}

func (m *Manager) Status(name string) (Status, error) { return m.inner.Status(name) }
func (m *Manager) StatusAll() []Status                { return m.inner.StatusAll() }

func (m *Manager) History(ctx context.Context, name string, limit int) ([]Record, error) {
	return m.inner.History(ctx, name, limit)
}

func (m *Manager) Close() error { return m.inner.Close() }

// OpenStore attaches a launch record store by DSN: a postgres:// URL, a
// sqlite://path, or a bare SQLite file path.
func (m *Manager) OpenStore(dsn string) error {
	st, err := storefactory.NewFromDSN(dsn)
	if err != nil {
		return err
	}
	return m.inner.SetStore(st)
}

// OpenHistorySinks attaches streaming lifecycle sinks by DSN
// (clickhouse://, opensearch://). It replaces any previous sink set.
func (m *Manager) OpenHistorySinks(dsns ...string) error {
	sinks := make([]HistorySink, 0, len(dsns))
	for _, d := range dsns {
		s, err := histfactory.NewSinkFromDSN(d)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}
	m.inner.SetHistorySinks(sinks...)
	return nil
}

// SetHistorySinks attaches caller-built sinks, replacing any previous set.
func (m *Manager) SetHistorySinks(sinks ...HistorySink) { m.inner.SetHistorySinks(sinks...) }

// LoadConfig reads the TOML config at path; an empty path means the default
// location next to the executable.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// PinWorkDir switches the process into the directory holding its own
// executable and returns that directory.
func PinWorkDir() (string, error) { return launcher.PinWorkDir() }

// ReportLine renders the "<label>, pid: <pid>" confirmation line.
func ReportLine(label string, pid int) string { return launcher.ReportLine(label, pid) }

// RestartOnce is the one-call equivalent of running the CLI bare: pin the
// working directory, load the config and cycle every configured worker.
func RestartOnce(ctx context.Context, configPath string, logger *slog.Logger) ([]*RestartResult, error) {
	if _, err := launcher.PinWorkDir(); err != nil {
		return nil, err
	}
	c, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	m, err := NewFromConfig(c, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = m.Close() }()
	return m.RestartAll(ctx)
}

// NewHTTPServer serves the REST API for m on addr under basePath. The
// returned server is already listening; Close shuts it down.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	sc := cfg.ServerConfig{Enabled: true, Listen: addr, BasePath: basePath}
	return iapi.NewServer(sc, m.inner, nil)
}

// Metrics helpers.

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }

// ServeMetrics serves /metrics on addr from the default registry, blocking
// in the caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
