package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/loadguard/internal/breaker"
	"github.com/splax/loadguard/internal/gate"
	"github.com/splax/loadguard/internal/governor"
	"github.com/splax/loadguard/internal/stream"
)

func newTestRouter(t *testing.T) (*Router, *breaker.Registry, *stream.Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gov := governor.New(governor.Config{
		MinWorkers:     2,
		SoftMaxWorkers: 16,
		HardMaxWorkers: 32,
		InitialBudget:  8,
	}, logger, nil)
	registry := breaker.NewRegistry(breaker.Config{FailureThreshold: 2}, logger)
	g := gate.New(gov.GetBudget(), registry, nil, logger)
	hub := stream.NewHub()
	return NewRouter(logger, gov, g, registry, hub), registry, hub
}

func TestHealthzReportsComponents(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", payload["status"])
	}
	components, ok := payload["components"].(map[string]any)
	if !ok {
		t.Fatalf("components missing from payload: %v", payload)
	}
	govComponent, ok := components["governor"].(map[string]any)
	if !ok || govComponent["budget"] != float64(8) {
		t.Fatalf("governor component = %v, want budget 8", components["governor"])
	}
}

func TestStatsIncludesBreakerUnits(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	b := registry.Get("payments")
	b.RecordFailure(errors.New("timeout"))
	b.RecordFailure(errors.New("timeout"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var payload struct {
		Governor map[string]any   `json:"governor"`
		Gate     map[string]any   `json:"gate"`
		Breakers []map[string]any `json:"breakers"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Governor["budget"] != float64(8) {
		t.Fatalf("governor budget = %v, want 8", payload.Governor["budget"])
	}
	if payload.Gate["capacity"] != float64(8) {
		t.Fatalf("gate capacity = %v, want 8", payload.Gate["capacity"])
	}
	if len(payload.Breakers) != 1 {
		t.Fatalf("got %d breaker entries, want 1", len(payload.Breakers))
	}
	entry := payload.Breakers[0]
	if entry["unit"] != "payments" || entry["state"] != "open" {
		t.Fatalf("unexpected breaker entry %v", entry)
	}
}

func TestStatsRejectsNonGet(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stats", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestAlertsSSEStreamsBroadcasts(t *testing.T) {
	router, _, hub := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/events/alerts", nil)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)

	recorder := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		router.handleAlertsSSE(recorder, req)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(recorder.body(), ": ping")
	})
	hub.Broadcast(stream.TopicAlerts, []byte(`{"kind":"pressure_high"}`))
	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(recorder.body(), `data: {"kind":"pressure_high"}`)
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sse handler did not exit after context cancel")
	}

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if recorder.Header().Get("Cache-Control") != "no-cache" {
		t.Fatalf("expected no-cache header")
	}
	if recorder.flushCount() == 0 {
		t.Fatalf("expected flusher to be invoked")
	}
}

func TestAlertsSSERejectsUnknownSeverity(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events/alerts?severity=BOGUS", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAlertsSSERequiresFlusher(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := &noFlushRecorder{header: make(http.Header)}
	router.handleAlertsSSE(w, httptest.NewRequest(http.MethodGet, "/events/alerts", nil))

	if w.status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.status)
	}
}

type streamRecorder struct {
	mu      sync.Mutex
	header  http.Header
	buf     bytes.Buffer
	status  int
	flushes int
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header)}
}

func (r *streamRecorder) Header() http.Header { return r.header }

func (r *streamRecorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == 0 {
		r.status = code
	}
}

func (r *streamRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.buf.Write(b)
}

func (r *streamRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func (r *streamRecorder) flushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

type noFlushRecorder struct {
	header http.Header
	buf    bytes.Buffer
	status int
}

func (r *noFlushRecorder) Header() http.Header { return r.header }

func (r *noFlushRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *noFlushRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.buf.Write(b)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
