// Package httpx exposes the governance state over HTTP: health and stats
// endpoints, Prometheus metrics, and live alert streams.
package httpx

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/loadguard/internal/breaker"
	"github.com/splax/loadguard/internal/domain"
	"github.com/splax/loadguard/internal/gate"
	"github.com/splax/loadguard/internal/governor"
	"github.com/splax/loadguard/internal/stream"
)

const sseHeartbeatInterval = 15 * time.Second

// Router wires HTTP endpoints to the governance components.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	gov      *governor.Governor
	gate     *gate.Gate
	breakers *breaker.Registry
	hub      *stream.Hub
	upgrader websocket.Upgrader
	metrics  http.Handler
	now      func() time.Time
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, gov *governor.Governor, g *gate.Gate, breakers *breaker.Registry, hub *stream.Hub) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		gov:      gov,
		gate:     g,
		breakers: breakers,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		metrics: promhttp.Handler(),
		now:     time.Now,
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/stats", r.audit(r.handleStats))
	r.mux.Handle("/metrics", r.metrics)
	r.mux.HandleFunc("/ws/alerts", r.audit(r.handleAlertsWS))
	r.mux.HandleFunc("/events/alerts", r.audit(r.handleAlertsSSE))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	snap := r.gov.Snapshot()
	payload := map[string]any{
		"status": "ok",
		"components": map[string]any{
			"governor": map[string]any{
				"status": "up",
				"budget": snap.Budget,
			},
			"gate": map[string]any{
				"status":   "up",
				"capacity": r.gate.Stats().Capacity,
			},
		},
		"timestamp": r.now().UTC().Format(time.RFC3339Nano),
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	snap := r.gov.Snapshot()
	gateStats := r.gate.Stats()

	govPayload := map[string]any{
		"budget":           snap.Budget,
		"min_workers":      snap.MinWorkers,
		"soft_max_workers": snap.SoftMaxWorkers,
		"hard_max_workers": snap.HardMaxWorkers,
		"samples":          snap.Samples,
		"calm_streak":      snap.CalmStreak,
	}
	if last := snap.LastSample; last != nil {
		govPayload["last_sample"] = map[string]any{
			"timestamp":      last.Timestamp.UTC().Format(time.RFC3339Nano),
			"cpu_percent":    last.CPUPercent,
			"memory_percent": last.MemoryPercent,
			"rss_mb":         last.ResidentMemoryMB,
			"worker_budget":  last.WorkerBudget,
		}
	}

	units := make([]map[string]any, 0)
	for _, st := range r.breakers.Snapshot() {
		unit := map[string]any{
			"unit":                 st.Unit,
			"state":                st.State.String(),
			"error_rate":           st.ErrorRate,
			"failures":             st.Failures,
			"consecutive_failures": st.ConsecutiveFailures,
			"window_len":           st.WindowLen,
		}
		if !st.LastFailure.IsZero() {
			unit["last_failure"] = st.LastFailure.UTC().Format(time.RFC3339Nano)
		}
		units = append(units, unit)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"governor": govPayload,
		"gate": map[string]any{
			"capacity":  gateStats.Capacity,
			"in_flight": gateStats.InFlight,
			"waiting":   gateStats.Waiting,
		},
		"breakers":    units,
		"subscribers": r.hub.SubscriberCount(stream.TopicAlerts),
		"timestamp":   r.now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleAlertsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	topic, ok := r.alertTopic(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := stream.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleAlertsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	topic, ok := r.alertTopic(w, req)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := stream.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(topic, client)
	defer func() {
		r.hub.Unregister(topic, client)
		client.Close()
	}()
	if err := client.Heartbeat(); err != nil {
		return
	}

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// alertTopic resolves the stream topic from the optional severity query
// parameter. No parameter selects the firehose.
func (r *Router) alertTopic(w http.ResponseWriter, req *http.Request) (string, bool) {
	severity := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("severity")))
	if severity == "" {
		return stream.TopicAlerts, true
	}
	for _, s := range []domain.Severity{domain.SeverityInfo, domain.SeverityWarning, domain.SeverityCritical} {
		if severity == s.String() {
			return severity, true
		}
	}
	writeError(w, http.StatusBadRequest, "unknown severity "+severity)
	return "", false
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
