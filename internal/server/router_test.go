package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicwh1988/respawn/internal/manager"
	"github.com/nicwh1988/respawn/internal/metrics"
	"github.com/nicwh1988/respawn/internal/store"
	"github.com/nicwh1988/respawn/internal/worker"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func setupManager(t *testing.T, specs ...worker.Spec) *manager.Manager {
	t.Helper()
	m := manager.New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := m.Apply(specs); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return m
}

func setupRouter(t *testing.T, base string, specs ...worker.Spec) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(setupManager(t, specs...), base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// idleSpec is a valid worker that matches nothing running on the host.
func idleSpec(name string) worker.Spec {
	return worker.Spec{
		Name:        name,
		Interpreter: "sh",
		Script:      name + ".sh",
		Match:       fmt.Sprintf("respawn-api-%s-%d", name, time.Now().UnixNano()),
	}
}

// runSpec is a worker that really spawns: its script name carries a unique
// marker so the match signature cannot collide with anything else.
func runSpec(t *testing.T, name, body string) worker.Spec {
	t.Helper()
	dir := t.TempDir()
	marker := fmt.Sprintf("respawn-api-run-%s-%d-%d", name, os.Getpid(), time.Now().UnixNano())
	script := filepath.Join(dir, marker+".sh")
	if err := os.WriteFile(script, []byte(body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return worker.Spec{
		Name:        name,
		Interpreter: "sh",
		Script:      script,
		LogPath:     filepath.Join(dir, name+".log"),
		GracePeriod: 20 * time.Millisecond,
	}
}

type stubStore struct{ records []store.Record }

func (s *stubStore) EnsureSchema(context.Context) error                    { return nil }
func (s *stubStore) RecordLaunch(context.Context, store.Record) error      { return nil }
func (s *stubStore) RecordExit(context.Context, string, time.Time, error) error {
	return nil
}
func (s *stubStore) ListByWorker(context.Context, string, int) ([]store.Record, error) {
	return s.records, nil
}
func (s *stubStore) ListRunning(context.Context) ([]store.Record, error)      { return nil, nil }
func (s *stubStore) PurgeOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }
func (s *stubStore) Close() error                                             { return nil }

func TestHealthz(t *testing.T) {
	h := setupRouter(t, "/api", idleSpec("idle"))
	rec := doReq(t, h, http.MethodGet, "/api/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestStopRequiresName(t *testing.T) {
	h := setupRouter(t, "", idleSpec("idle"))
	rec := doReq(t, h, http.MethodPost, "/stop")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRestartRejectsUnsafeName(t *testing.T) {
	h := setupRouter(t, "", idleSpec("idle"))
	rec := doReq(t, h, http.MethodPost, "/restart?name=..%2Fevil")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRestartUnknownWorker(t *testing.T) {
	h := setupRouter(t, "", idleSpec("idle"))
	rec := doReq(t, h, http.MethodPost, "/restart?name=ghost")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unknown worker") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestStatusSingleAndAll(t *testing.T) {
	h := setupRouter(t, "", idleSpec("one"), idleSpec("two"))

	rec := doReq(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status all: expected 200, got %d", rec.Code)
	}
	var all []worker.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(all) != 2 || all[0].Name != "one" || all[1].Name != "two" {
		t.Fatalf("unexpected statuses: %+v", all)
	}

	rec = doReq(t, h, http.MethodGet, "/status?name=one")
	if rec.Code != http.StatusOK {
		t.Fatalf("single status: expected 200, got %d", rec.Code)
	}
	var st worker.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if st.Name != "one" || st.Running {
		t.Fatalf("unexpected status: %+v", st)
	}

	rec = doReq(t, h, http.MethodGet, "/status?name=ghost")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", rec.Code)
	}
}

func TestStopNothingRunning(t *testing.T) {
	h := setupRouter(t, "", idleSpec("idle"))
	rec := doReq(t, h, http.MethodPost, "/stop?name=idle&wait=100ms")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestStopRejectsBadWait(t *testing.T) {
	h := setupRouter(t, "", idleSpec("idle"))
	rec := doReq(t, h, http.MethodPost, "/stop?name=idle&wait=soon")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := setupManager(t, idleSpec("logged"))
	h := NewRouter(m, "").Handler()

	rec := doReq(t, h, http.MethodGet, "/history?name=logged")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "no store") {
		t.Fatalf("want missing store error, got %d: %s", rec.Code, rec.Body.String())
	}

	st := &stubStore{records: []store.Record{{Worker: "logged", PID: 7}}}
	if err := m.SetStore(st); err != nil {
		t.Fatalf("SetStore: %v", err)
	}
	rec = doReq(t, h, http.MethodGet, "/history?name=logged&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var recs []store.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 1 || recs[0].PID != 7 {
		t.Fatalf("unexpected records: %+v", recs)
	}

	rec = doReq(t, h, http.MethodGet, "/history?name=logged&limit=zero")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/history")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name: expected 400, got %d", rec.Code)
	}
}

func TestRestartSingleWorker(t *testing.T) {
	requireUnix(t)
	gin.SetMode(gin.TestMode)
	m := setupManager(t, runSpec(t, "oneshot", "true"))
	m.EnableReaping(true)
	h := NewRouter(m, "/api").Handler()

	rec := doReq(t, h, http.MethodPost, "/api/restart?name=oneshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pid, _ := res["pid"].(float64); pid <= 0 {
		t.Fatalf("expected positive pid in %s", rec.Body.String())
	}
	if res["worker"] != "oneshot" {
		t.Fatalf("unexpected worker in %s", rec.Body.String())
	}
}

func TestRestartAllWithEmptyName(t *testing.T) {
	requireUnix(t)
	gin.SetMode(gin.TestMode)
	m := setupManager(t, runSpec(t, "quick", "true"))
	m.EnableReaping(true)
	h := NewRouter(m, "").Handler()

	rec := doReq(t, h, http.MethodPost, "/restart")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var results []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %s", rec.Body.String())
	}
}

func TestMetricsOutsideBasePath(t *testing.T) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("Register: %v", err)
	}
	metrics.IncRestart("api-metrics-test")

	h := setupRouter(t, "/api", idleSpec("idle"))
	rec := doReq(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "respawn_launcher_restarts_total") {
		t.Fatal("metrics output missing launcher counters")
	}
}
