// Package alert turns pressure events into rate-limited notifications and
// fans them out to observability sinks.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/splax/loadguard/internal/domain"
)

// Sink delivers alerts to an external destination. Delivery is
// at-least-once: a failing sink is logged and skipped, never retried here.
type Sink interface {
	Deliver(ctx context.Context, alert domain.Alert) error
}

// Config holds alert delivery policy.
type Config struct {
	// SuppressionWindow is the minimum spacing between alerts of the same
	// kind. Critical alerts bypass suppression.
	SuppressionWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.SuppressionWindow <= 0 {
		c.SuppressionWindow = 30 * time.Second
	}
	return c
}

// Manager owns the suppression state and the sink list.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	sinks    []Sink
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager constructs a manager delivering to the given sinks.
func NewManager(cfg Config, logger *slog.Logger, sinks ...Sink) *Manager {
	if logger != nil {
		logger = logger.With("component", "alerts")
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		sinks:    sinks,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessEvent maps a pressure event to zero or more delivered alerts.
// Normal pressure produces nothing; elevated maps to INFO, high to WARNING
// and critical to CRITICAL.
func (m *Manager) ProcessEvent(ctx context.Context, event domain.PressureEvent) []domain.Alert {
	var severity domain.Severity
	switch event.Level {
	case domain.PressureNormal:
		return nil
	case domain.PressureElevated:
		severity = domain.SeverityInfo
	case domain.PressureHigh:
		severity = domain.SeverityWarning
	default:
		severity = domain.SeverityCritical
	}

	kind := "pressure_" + event.Level.String()
	title := fmt.Sprintf("Resource pressure %s", event.Level)
	alert := m.emit(ctx, severity, kind, title, event.Message, &event)
	if alert == nil {
		return nil
	}
	return []domain.Alert{*alert}
}

// Notify emits a standalone alert not tied to a pressure event. It is the
// hook the governor and monitor use for validation and invariant failures.
func (m *Manager) Notify(severity domain.Severity, kind, title, message string) {
	m.emit(context.Background(), severity, kind, title, message, nil)
}

func (m *Manager) emit(ctx context.Context, severity domain.Severity, kind, title, message string, event *domain.PressureEvent) *domain.Alert {
	if severity != domain.SeverityCritical && !m.limiterFor(kind).Allow() {
		if m.logger != nil {
			m.logger.Debug("alert suppressed", "kind", kind)
		}
		return nil
	}

	alert := domain.Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Event:     event,
		EmittedAt: m.now(),
	}
	for _, sink := range m.sinks {
		if err := sink.Deliver(ctx, alert); err != nil && m.logger != nil {
			m.logger.Warn("alert delivery failed", "kind", kind, "error", err)
		}
	}
	return &alert
}

// limiterFor returns the per-kind suppression limiter, creating it on first
// use. The map doubles as the dedupe cache keyed by alert kind.
func (m *Manager) limiterFor(kind string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.limiters[kind]
	if l == nil {
		l = rate.NewLimiter(rate.Every(m.cfg.SuppressionWindow), 1)
		m.limiters[kind] = l
	}
	return l
}
