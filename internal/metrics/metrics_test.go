package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, family, worker string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "worker" && lp.GetValue() == worker {
					if c := m.GetCounter(); c != nil {
						return c.GetValue()
					}
					if g := m.GetGauge(); g != nil {
						return g.GetValue()
					}
				}
			}
		}
	}
	t.Fatalf("metric %s{worker=%q} not found", family, worker)
	return 0
}

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncRestart("weibo-crawler")
	IncRestart("weibo-crawler")
	AddSignals("weibo-crawler", 3)
	AddSignals("weibo-crawler", 0)
	IncSpawnFailure("weibo-crawler")
	SetWorkerUp("weibo-crawler", true)
	SetWorkerCPU("weibo-crawler", 12.5)
	SetWorkerRSS("weibo-crawler", 2048)

	if v := gatherValue(t, reg, "respawn_launcher_restarts_total", "weibo-crawler"); v != 2 {
		t.Fatalf("restarts_total = %v, want 2", v)
	}
	if v := gatherValue(t, reg, "respawn_launcher_signals_total", "weibo-crawler"); v != 3 {
		t.Fatalf("signals_total = %v, want 3", v)
	}
	if v := gatherValue(t, reg, "respawn_launcher_spawn_failures_total", "weibo-crawler"); v != 1 {
		t.Fatalf("spawn_failures_total = %v, want 1", v)
	}
	if v := gatherValue(t, reg, "respawn_worker_up", "weibo-crawler"); v != 1 {
		t.Fatalf("worker_up = %v, want 1", v)
	}
	if v := gatherValue(t, reg, "respawn_worker_cpu_percent", "weibo-crawler"); v != 12.5 {
		t.Fatalf("cpu_percent = %v, want 12.5", v)
	}
	if v := gatherValue(t, reg, "respawn_worker_memory_rss_bytes", "weibo-crawler"); v != 2048 {
		t.Fatalf("memory_rss_bytes = %v, want 2048", v)
	}

	ClearWorker("weibo-crawler")
	if v := gatherValue(t, reg, "respawn_worker_up", "weibo-crawler"); v != 0 {
		t.Fatalf("worker_up after clear = %v, want 0", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Ensure collectors are registered with the default registry used by Handler().
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncRestart("handler-worker")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "respawn_launcher_restarts_total") {
		t.Fatalf("metrics output missing restarts_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentUpdates(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncRestart("c")
			AddSignals("c", 1)
			SetWorkerUp("c", true)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestHelpersBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register.
	IncRestart("test")
	AddSignals("test", 2)
	IncSpawnFailure("test")
	SetWorkerUp("test", true)
	SetWorkerCPU("test", 1.0)
	SetWorkerRSS("test", 1)
	ClearWorker("test")
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&failingRegisterer{})
	if err == nil {
		t.Fatal("Register should surface registerer errors")
	}
	if regOK.Load() {
		t.Fatal("failed registration must not mark metrics as ready")
	}
}

type failingRegisterer struct{}

func (f *failingRegisterer) Register(prometheus.Collector) error {
	return errors.New("registerer rejected collector")
}

func (f *failingRegisterer) MustRegister(...prometheus.Collector) {}
func (f *failingRegisterer) Unregister(prometheus.Collector) bool { return false }
