package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "launcher",
			Name:      "restarts_total",
			Help:      "Number of completed restart sequences.",
		}, []string{"worker"},
	)
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "launcher",
			Name:      "signals_total",
			Help:      "Number of termination signals delivered to previous instances.",
		}, []string{"worker"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "respawn",
			Subsystem: "launcher",
			Name:      "spawn_failures_total",
			Help:      "Number of relaunches that failed to start.",
		}, []string{"worker"},
	)
	workerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "respawn",
			Subsystem: "worker",
			Name:      "up",
			Help:      "Whether the worker is currently detected as running.",
		}, []string{"worker"},
	)
	workerCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "respawn",
			Subsystem: "worker",
			Name:      "cpu_percent",
			Help:      "CPU usage of the worker process.",
		}, []string{"worker"},
	)
	workerRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "respawn",
			Subsystem: "worker",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the worker process.",
		}, []string{"worker"},
	)
)

// Register registers all collectors with r. It is safe to call multiple
// times; calls after the first success are no-ops, and collectors already
// registered elsewhere are tolerated.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{restarts, signals, spawnFailures, workerUp, workerCPU, workerRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncRestart(worker string) {
	if regOK.Load() {
		restarts.WithLabelValues(worker).Inc()
	}
}

func AddSignals(worker string, n int) {
	if regOK.Load() && n > 0 {
		signals.WithLabelValues(worker).Add(float64(n))
	}
}

func IncSpawnFailure(worker string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(worker).Inc()
	}
}

func SetWorkerUp(worker string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1.0
		}
		workerUp.WithLabelValues(worker).Set(v)
	}
}

func SetWorkerCPU(worker string, pct float64) {
	if regOK.Load() {
		workerCPU.WithLabelValues(worker).Set(pct)
	}
}

func SetWorkerRSS(worker string, bytes uint64) {
	if regOK.Load() {
		workerRSS.WithLabelValues(worker).Set(float64(bytes))
	}
}
