// Package governor maintains the worker budget: one bounded integer
// recomputed from recent telemetry and read by the admission path.
package governor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/splax/loadguard/internal/domain"
	"github.com/splax/loadguard/internal/window"
)

// Alerter receives out-of-band notifications from the governor. It is
// satisfied by alert.Manager.
type Alerter interface {
	Notify(severity domain.Severity, kind, title, message string)
}

// Config holds the governor's bounds and control-law tuning. It is supplied
// once at construction.
type Config struct {
	// MinWorkers is the floor the budget never drops below.
	MinWorkers int
	// SoftMaxWorkers caps adaptive growth.
	SoftMaxWorkers int
	// HardMaxWorkers is the absolute ceiling on the budget.
	HardMaxWorkers int
	// InitialBudget is the starting budget, clamped into range.
	InitialBudget int
	// HistorySize bounds the retained telemetry window.
	HistorySize int
	// AdaptWindow is how many recent samples feed the water-mark checks.
	AdaptWindow int
	// IncreaseAfter is how many consecutive calm samples are required
	// before the budget grows by one.
	IncreaseAfter int
	// DecreaseFactor multiplies the budget when a high water mark is
	// breached. Must be in (0, 1).
	DecreaseFactor float64

	CPUHighWater float64
	CPULowWater  float64
	MemHighWater float64
	MemLowWater  float64
}

func (c Config) withDefaults() Config {
	if c.MinWorkers < 1 {
		c.MinWorkers = 1
	}
	if c.HardMaxWorkers < c.MinWorkers {
		c.HardMaxWorkers = c.MinWorkers
	}
	if c.SoftMaxWorkers < c.MinWorkers {
		c.SoftMaxWorkers = c.MinWorkers
	}
	if c.SoftMaxWorkers > c.HardMaxWorkers {
		c.SoftMaxWorkers = c.HardMaxWorkers
	}
	if c.InitialBudget < c.MinWorkers {
		c.InitialBudget = c.MinWorkers
	}
	if c.InitialBudget > c.HardMaxWorkers {
		c.InitialBudget = c.HardMaxWorkers
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 120
	}
	if c.AdaptWindow <= 0 {
		c.AdaptWindow = 6
	}
	if c.AdaptWindow > c.HistorySize {
		c.AdaptWindow = c.HistorySize
	}
	if c.IncreaseAfter <= 0 {
		c.IncreaseAfter = 3
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		c.DecreaseFactor = 0.75
	}
	if c.CPUHighWater <= 0 || c.CPUHighWater > 100 {
		c.CPUHighWater = 85
	}
	if c.CPULowWater <= 0 || c.CPULowWater >= c.CPUHighWater {
		c.CPULowWater = c.CPUHighWater * 0.7
	}
	if c.MemHighWater <= 0 || c.MemHighWater > 100 {
		c.MemHighWater = 90
	}
	if c.MemLowWater <= 0 || c.MemLowWater >= c.MemHighWater {
		c.MemLowWater = c.MemHighWater * 0.75
	}
	return c
}

// InvariantError reports a computed budget outside the configured bounds.
// It indicates the budget protocol itself is broken and is never clamped
// away silently.
type InvariantError struct {
	Budget int
	Min    int
	Max    int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("budget %d outside bounds [%d, %d]", e.Budget, e.Min, e.Max)
}

// Snapshot is a read-only view of governor state for dashboards.
type Snapshot struct {
	Budget         int
	MinWorkers     int
	SoftMaxWorkers int
	HardMaxWorkers int
	Samples        int
	CalmStreak     int
	LastSample     *domain.TelemetrySample
}

// Governor owns the budget and its backing history. A single mutex guards
// both; it is held only for in-memory computation and never across a
// blocking call, so the sampler and the admission loop cannot strand each
// other on it.
type Governor struct {
	mu sync.Mutex

	cfg        Config
	history    *window.Ring[domain.TelemetrySample]
	budget     int
	calmStreak int

	logger *slog.Logger
	alerts Alerter
	now    func() time.Time
}

// New constructs a governor with the initial budget in force.
func New(cfg Config, logger *slog.Logger, alerts Alerter) *Governor {
	cfg = cfg.withDefaults()
	if logger != nil {
		logger = logger.With("component", "governor")
	}
	return &Governor{
		cfg:     cfg,
		history: window.New[domain.TelemetrySample](cfg.HistorySize),
		budget:  cfg.InitialBudget,
		logger:  logger,
		alerts:  alerts,
		now:     time.Now,
	}
}

// RecordUsage validates and records one telemetry sample, then recomputes
// the budget. A malformed sample is rejected: the previous budget stays in
// force and a warning alert is emitted.
func (g *Governor) RecordUsage(sample domain.TelemetrySample) error {
	if err := sample.Validate(); err != nil {
		if g.logger != nil {
			g.logger.Warn("telemetry sample rejected", "error", err)
		}
		if g.alerts != nil {
			g.alerts.Notify(domain.SeverityWarning, "telemetry_rejected",
				"Malformed telemetry sample",
				fmt.Sprintf("sample rejected, budget retained: %v", err))
		}
		return fmt.Errorf("record usage: %w", err)
	}

	g.mu.Lock()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = g.now()
	}
	sample.WorkerBudget = g.budget
	g.history.Push(sample)

	next := g.nextBudgetLocked()
	if next < g.cfg.MinWorkers || next > g.cfg.HardMaxWorkers {
		prev := g.budget
		g.mu.Unlock()
		err := &InvariantError{Budget: next, Min: g.cfg.MinWorkers, Max: g.cfg.HardMaxWorkers}
		if g.logger != nil {
			g.logger.Error("budget invariant violated", "computed", next, "retained", prev)
		}
		if g.alerts != nil {
			g.alerts.Notify(domain.SeverityCritical, "budget_invariant",
				"Worker budget invariant violated", err.Error())
		}
		return err
	}

	changed := next != g.budget
	prev := g.budget
	g.budget = next
	g.mu.Unlock()

	if changed && g.logger != nil {
		g.logger.Info("worker budget adjusted", "from", prev, "to", next,
			"cpu", sample.CPUPercent, "memory", sample.MemoryPercent)
	}
	return nil
}

// GetBudget returns the committed budget. The result is always within
// [MinWorkers, HardMaxWorkers].
func (g *Governor) GetBudget() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.budget
}

// Snapshot returns a consistent read-only view of the governor.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := Snapshot{
		Budget:         g.budget,
		MinWorkers:     g.cfg.MinWorkers,
		SoftMaxWorkers: g.cfg.SoftMaxWorkers,
		HardMaxWorkers: g.cfg.HardMaxWorkers,
		Samples:        g.history.Len(),
		CalmStreak:     g.calmStreak,
	}
	if g.history.Len() > 0 {
		last := g.history.At(g.history.Len() - 1)
		snap.LastSample = &last
	}
	return snap
}

// nextBudgetLocked applies the control law: multiplicative decrease when the
// recent window runs hot, additive increase of one only after a calm streak.
func (g *Governor) nextBudgetLocked() int {
	recent := g.history.Last(g.cfg.AdaptWindow)
	if len(recent) == 0 {
		return g.budget
	}

	var cpuSum, memSum float64
	for _, s := range recent {
		cpuSum += s.CPUPercent
		memSum += s.MemoryPercent
	}
	cpuMean := cpuSum / float64(len(recent))
	memMean := memSum / float64(len(recent))

	if cpuMean > g.cfg.CPUHighWater || memMean > g.cfg.MemHighWater {
		g.calmStreak = 0
		next := int(float64(g.budget) * g.cfg.DecreaseFactor)
		if next < g.cfg.MinWorkers {
			next = g.cfg.MinWorkers
		}
		return next
	}

	last := recent[len(recent)-1]
	if last.CPUPercent < g.cfg.CPULowWater && last.MemoryPercent < g.cfg.MemLowWater {
		g.calmStreak++
		if g.calmStreak >= g.cfg.IncreaseAfter && g.budget < g.cfg.SoftMaxWorkers {
			g.calmStreak = 0
			return g.budget + 1
		}
		return g.budget
	}

	// Between the water marks: hold steady (hysteresis band).
	g.calmStreak = 0
	return g.budget
}
