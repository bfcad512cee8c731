package domain

import "time"

// PressureLevel is a discrete classification of proximity to resource exhaustion.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureElevated
	PressureHigh
	PressureCritical
)

// String renders the level for logs and stream payloads.
func (l PressureLevel) String() string {
	switch l {
	case PressureNormal:
		return "normal"
	case PressureElevated:
		return "elevated"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PressureEvent records one classification of system pressure.
// Events are immutable once constructed and safe to share without locking.
type PressureEvent struct {
	ID           string
	Timestamp    time.Time
	Level        PressureLevel
	Sample       TelemetrySample
	Degradations []string
	OpenBreakers []string
	Message      string
}
