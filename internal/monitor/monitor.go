// Package monitor runs the periodic sampling loop: it feeds telemetry to
// the governor, pushes the resulting budget into the admission gate, and
// routes pressure classifications to the alert manager.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/loadguard/internal/alert"
	"github.com/splax/loadguard/internal/breaker"
	"github.com/splax/loadguard/internal/domain"
	"github.com/splax/loadguard/internal/gate"
	"github.com/splax/loadguard/internal/governor"
	"github.com/splax/loadguard/internal/metrics"
	"github.com/splax/loadguard/internal/pressure"
	"github.com/splax/loadguard/internal/telemetry"
)

const (
	defaultInterval = 5 * time.Second
	sampleTimeout   = 3 * time.Second
)

// Degradation labels reported to the classifier.
const (
	degradationBudgetReduced = "budget_reduced"
	degradationBudgetFloor   = "budget_floor"
)

// Monitor drives one governance iteration per tick.
type Monitor struct {
	provider   telemetry.Provider
	gov        *governor.Governor
	gate       *gate.Gate
	classifier *pressure.Classifier
	alerts     *alert.Manager
	breakers   *breaker.Registry
	metrics    *metrics.Set

	interval   time.Duration
	logger     *slog.Logger
	lastBudget int
}

// New constructs a monitor. It returns nil when any required collaborator
// is missing.
func New(provider telemetry.Provider, gov *governor.Governor, g *gate.Gate, classifier *pressure.Classifier, alerts *alert.Manager, breakers *breaker.Registry, set *metrics.Set, interval time.Duration, logger *slog.Logger) *Monitor {
	if provider == nil || gov == nil || g == nil || classifier == nil || alerts == nil || breakers == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger != nil {
		logger = logger.With("component", "monitor")
	}
	return &Monitor{
		provider:   provider,
		gov:        gov,
		gate:       g,
		classifier: classifier,
		alerts:     alerts,
		breakers:   breakers,
		metrics:    set,
		interval:   interval,
		logger:     logger,
		lastBudget: gov.GetBudget(),
	}
}

// Run executes the sampling loop until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil {
		return
	}
	if m.logger != nil {
		m.logger.Info("governance monitor started", "interval", m.interval)
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runIteration(ctx)
	for {
		select {
		case <-ctx.Done():
			if m.logger != nil {
				m.logger.Info("governance monitor stopped")
			}
			return
		case <-ticker.C:
			m.runIteration(ctx)
		}
	}
}

func (m *Monitor) runIteration(parent context.Context) {
	timeout := sampleTimeout
	if m.interval < timeout {
		timeout = m.interval
	}
	opCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	sample, err := m.provider.Sample(opCtx)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("telemetry unavailable, keeping current budget", "error", err)
		}
		m.alerts.Notify(domain.SeverityWarning, "telemetry_unavailable",
			"Telemetry provider failed", err.Error())
		return
	}

	if err := m.gov.RecordUsage(sample); err != nil {
		// The governor already alerted; count the rejection and move on
		// with the retained budget.
		if m.metrics != nil {
			m.metrics.SampleRejected()
		}
		m.observe(m.gov.GetBudget(), m.classify(sample))
		return
	}
	if m.metrics != nil {
		m.metrics.SampleAccepted()
	}

	budget := m.gov.GetBudget()
	m.gate.ApplyBudget(m.gov)
	event := m.classify(sample)
	m.observe(budget, event)
	m.lastBudget = budget
}

func (m *Monitor) classify(sample domain.TelemetrySample) domain.PressureEvent {
	budget := m.gov.GetBudget()
	snap := m.gov.Snapshot()
	sample.WorkerBudget = budget

	var degradations []string
	if budget < m.lastBudget {
		degradations = append(degradations, degradationBudgetReduced)
	}
	if budget == snap.MinWorkers {
		degradations = append(degradations, degradationBudgetFloor)
	}

	return m.classifier.Classify(sample, degradations, m.breakers.OpenUnits())
}

func (m *Monitor) observe(budget int, event domain.PressureEvent) {
	alerts := m.alerts.ProcessEvent(context.Background(), event)
	if m.metrics != nil {
		m.metrics.ObserveBudget(budget)
		stats := m.gate.Stats()
		m.metrics.ObserveGate(stats.Capacity, stats.InFlight, stats.Waiting)
		m.metrics.ObservePressure(event.Level)
		m.metrics.ObserveBreakers(m.breakers.Snapshot())
		for _, a := range alerts {
			m.metrics.AlertEmitted(a.Severity)
		}
	}
}
