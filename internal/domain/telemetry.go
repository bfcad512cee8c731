package domain

import (
	"fmt"
	"math"
	"time"
)

// TelemetrySample captures one observation of host resource usage.
// Samples are immutable once recorded.
type TelemetrySample struct {
	Timestamp        time.Time
	CPUPercent       float64
	MemoryPercent    float64
	ResidentMemoryMB float64
	WorkerBudget     int
}

// ValidationError reports a telemetry sample field outside its legal range.
type ValidationError struct {
	Field string
	Value float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("telemetry field %s out of range: %v", e.Field, e.Value)
}

// Validate checks that percentages are finite and within [0, 100] and that
// resident memory is non-negative.
func (s TelemetrySample) Validate() error {
	if !inPercentRange(s.CPUPercent) {
		return &ValidationError{Field: "cpu_percent", Value: s.CPUPercent}
	}
	if !inPercentRange(s.MemoryPercent) {
		return &ValidationError{Field: "memory_percent", Value: s.MemoryPercent}
	}
	if math.IsNaN(s.ResidentMemoryMB) || math.IsInf(s.ResidentMemoryMB, 0) || s.ResidentMemoryMB < 0 {
		return &ValidationError{Field: "resident_memory_mb", Value: s.ResidentMemoryMB}
	}
	return nil
}

func inPercentRange(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= 0 && v <= 100
}
