// Package pressure maps telemetry and mitigation state into a discrete
// pressure level and raises operator alerts from it.
package pressure

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/loadguard/internal/domain"
)

// Thresholds holds the per-resource boundaries between pressure levels.
type Thresholds struct {
	CPUElevated float64
	CPUHigh     float64
	CPUCritical float64
	MemElevated float64
	MemHigh     float64
	MemCritical float64
}

// DefaultThresholds returns the standard classification boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUElevated: 70,
		CPUHigh:     85,
		CPUCritical: 95,
		MemElevated: 75,
		MemHigh:     88,
		MemCritical: 96,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.CPUElevated <= 0 {
		t.CPUElevated = d.CPUElevated
	}
	if t.CPUHigh <= t.CPUElevated {
		t.CPUHigh = d.CPUHigh
	}
	if t.CPUCritical <= t.CPUHigh {
		t.CPUCritical = d.CPUCritical
	}
	if t.MemElevated <= 0 {
		t.MemElevated = d.MemElevated
	}
	if t.MemHigh <= t.MemElevated {
		t.MemHigh = d.MemHigh
	}
	if t.MemCritical <= t.MemHigh {
		t.MemCritical = d.MemCritical
	}
	return t
}

// Classifier derives pressure events from telemetry samples. It is
// stateless apart from configuration and safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
	minWorkers int
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs a classifier. minWorkers marks the budget floor; a budget
// driven down to the floor counts as a worker-saturation signal.
func New(thresholds Thresholds, minWorkers int, logger *slog.Logger) *Classifier {
	if minWorkers < 1 {
		minWorkers = 1
	}
	if logger != nil {
		logger = logger.With("component", "pressure")
	}
	return &Classifier{
		thresholds: thresholds.withDefaults(),
		minWorkers: minWorkers,
		logger:     logger,
		now:        time.Now,
	}
}

// Classify produces an immutable pressure event for one telemetry sample.
// Malformed telemetry classifies as CRITICAL: when the inputs cannot be
// trusted the most conservative reading wins. Active mitigations (open
// breakers, applied degradations) lower the reported level by one step
// because they are already defending against the same pressure.
func (c *Classifier) Classify(sample domain.TelemetrySample, degradations, openBreakers []string) domain.PressureEvent {
	event := domain.PressureEvent{
		ID:           uuid.NewString(),
		Timestamp:    c.now(),
		Sample:       sample,
		Degradations: append([]string(nil), degradations...),
		OpenBreakers: append([]string(nil), openBreakers...),
	}

	if err := sample.Validate(); err != nil {
		event.Level = domain.PressureCritical
		event.Message = fmt.Sprintf("telemetry unusable, assuming worst case: %v", err)
		if c.logger != nil {
			c.logger.Warn("classifying malformed telemetry as critical", "error", err)
		}
		return event
	}

	level := levelFor(sample.CPUPercent, c.thresholds.CPUElevated, c.thresholds.CPUHigh, c.thresholds.CPUCritical)
	if memLevel := levelFor(sample.MemoryPercent, c.thresholds.MemElevated, c.thresholds.MemHigh, c.thresholds.MemCritical); memLevel > level {
		level = memLevel
	}
	if sample.WorkerBudget > 0 && sample.WorkerBudget <= c.minWorkers && level < domain.PressureElevated {
		level = domain.PressureElevated
	}

	mitigations := len(event.Degradations) + len(event.OpenBreakers)
	discounted := false
	if mitigations > 0 && level > domain.PressureNormal {
		level--
		discounted = true
	}

	event.Level = level
	event.Message = describe(sample, level, mitigations, discounted)
	return event
}

func levelFor(value, elevated, high, critical float64) domain.PressureLevel {
	switch {
	case value >= critical:
		return domain.PressureCritical
	case value >= high:
		return domain.PressureHigh
	case value >= elevated:
		return domain.PressureElevated
	default:
		return domain.PressureNormal
	}
}

func describe(sample domain.TelemetrySample, level domain.PressureLevel, mitigations int, discounted bool) string {
	msg := fmt.Sprintf("pressure %s: cpu=%.1f%% memory=%.1f%% rss=%.0fMB budget=%d",
		level, sample.CPUPercent, sample.MemoryPercent, sample.ResidentMemoryMB, sample.WorkerBudget)
	if discounted {
		msg += fmt.Sprintf(" (%d mitigations active, severity reduced)", mitigations)
	}
	return msg
}
