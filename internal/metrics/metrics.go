// Package metrics exposes the governance state as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/loadguard/internal/breaker"
	"github.com/splax/loadguard/internal/domain"
)

// Set bundles the subsystem's collectors. It satisfies gate.Observer so the
// admission path can feed it directly. The zero value is unusable; build
// one with New.
type Set struct {
	workerBudget  prometheus.Gauge
	gateCapacity  prometheus.Gauge
	gateInFlight  prometheus.Gauge
	gateWaiting   prometheus.Gauge
	pressureLevel prometheus.Gauge
	breakerState  *prometheus.GaugeVec
	admissions    *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	samples       prometheus.Counter
	badSamples    prometheus.Counter
}

// New builds and registers the collector set under the given namespace.
// Re-registration reuses existing collectors so repeated construction in
// tests is safe.
func New(namespace string) *Set {
	if namespace == "" {
		namespace = "loadguard"
	}
	s := &Set{
		workerBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "worker_budget",
			Help:      "Current worker budget committed by the governor",
		}),
		gateCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "gate_capacity",
			Help:      "Current admission gate capacity",
		}),
		gateInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "gate_in_flight",
			Help:      "Permits currently outstanding",
		}),
		gateWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "gate_waiting",
			Help:      "Callers currently waiting for admission",
		}),
		pressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "pressure_level",
			Help:      "Classified pressure level (0=normal 1=elevated 2=high 3=critical)",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Breaker state per unit (0=closed 1=open 2=half_open)",
		}, []string{"unit"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome",
		}, []string{"outcome"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "work_outcomes_total",
			Help:      "Completed units of work by status",
		}, []string{"status"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "emitted_total",
			Help:      "Alerts emitted by severity",
		}, []string{"severity"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "samples_total",
			Help:      "Telemetry samples accepted by the governor",
		}),
		badSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "rejected_samples_total",
			Help:      "Telemetry samples rejected as malformed",
		}),
	}
	s.registerAll()
	return s
}

func (s *Set) registerAll() {
	collectors := []prometheus.Collector{
		s.workerBudget, s.gateCapacity, s.gateInFlight, s.gateWaiting,
		s.pressureLevel, s.breakerState, s.admissions, s.outcomes,
		s.alerts, s.samples, s.badSamples,
	}
	for i, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				s.adoptExisting(i, are.ExistingCollector)
			}
		}
	}
}

func (s *Set) adoptExisting(i int, existing prometheus.Collector) {
	switch i {
	case 0:
		s.workerBudget = existing.(prometheus.Gauge)
	case 1:
		s.gateCapacity = existing.(prometheus.Gauge)
	case 2:
		s.gateInFlight = existing.(prometheus.Gauge)
	case 3:
		s.gateWaiting = existing.(prometheus.Gauge)
	case 4:
		s.pressureLevel = existing.(prometheus.Gauge)
	case 5:
		s.breakerState = existing.(*prometheus.GaugeVec)
	case 6:
		s.admissions = existing.(*prometheus.CounterVec)
	case 7:
		s.outcomes = existing.(*prometheus.CounterVec)
	case 8:
		s.alerts = existing.(*prometheus.CounterVec)
	case 9:
		s.samples = existing.(prometheus.Counter)
	case 10:
		s.badSamples = existing.(prometheus.Counter)
	}
}

// ObserveBudget records the committed worker budget.
func (s *Set) ObserveBudget(budget int) {
	s.workerBudget.Set(float64(budget))
}

// ObserveGate records gate occupancy.
func (s *Set) ObserveGate(capacity, inFlight, waiting int) {
	s.gateCapacity.Set(float64(capacity))
	s.gateInFlight.Set(float64(inFlight))
	s.gateWaiting.Set(float64(waiting))
}

// ObservePressure records the classified pressure level.
func (s *Set) ObservePressure(level domain.PressureLevel) {
	s.pressureLevel.Set(float64(level))
}

// ObserveBreakers records per-unit breaker states.
func (s *Set) ObserveBreakers(stats []breaker.Stats) {
	for _, st := range stats {
		var v float64
		switch st.State {
		case breaker.StateOpen:
			v = 1
		case breaker.StateHalfOpen:
			v = 2
		}
		s.breakerState.WithLabelValues(st.Unit).Set(v)
	}
}

// SampleAccepted counts a telemetry sample accepted by the governor.
func (s *Set) SampleAccepted() { s.samples.Inc() }

// SampleRejected counts a malformed telemetry sample.
func (s *Set) SampleRejected() { s.badSamples.Inc() }

// AlertEmitted counts an emitted alert.
func (s *Set) AlertEmitted(severity domain.Severity) {
	s.alerts.WithLabelValues(severity.String()).Inc()
}

// AdmissionGranted implements gate.Observer.
func (s *Set) AdmissionGranted(string) {
	s.admissions.WithLabelValues("granted").Inc()
}

// AdmissionRejected implements gate.Observer.
func (s *Set) AdmissionRejected(_, reason string) {
	s.admissions.WithLabelValues(reason).Inc()
}

// OutcomeRecorded implements gate.Observer.
func (s *Set) OutcomeRecorded(_ string, ok bool) {
	status := "failure"
	if ok {
		status = "success"
	}
	s.outcomes.WithLabelValues(status).Inc()
}

// CapacityChanged implements gate.Observer.
func (s *Set) CapacityChanged(capacity, inFlight int) {
	s.gateCapacity.Set(float64(capacity))
	s.gateInFlight.Set(float64(inFlight))
}
