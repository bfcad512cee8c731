package domain

import "time"

// Severity ranks how urgently an alert needs operator attention.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String renders the severity for logs and stream payloads.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Alert is a rate-limited notification delivered to observability sinks.
// Alerts are immutable once constructed.
type Alert struct {
	ID        string
	Severity  Severity
	Kind      string
	Title     string
	Message   string
	Event     *PressureEvent
	EmittedAt time.Time
}
