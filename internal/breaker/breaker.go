// Package breaker implements per-unit fault isolation. Each protected unit
// gets a three-state machine (closed, open, half-open) fed by a rolling
// window of recent outcomes.
package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/splax/loadguard/internal/window"
)

// State identifies the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String renders the state for logs and stats payloads.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds. It is supplied once at construction.
type Config struct {
	// FailureThreshold opens a closed breaker after this many consecutive
	// failures.
	FailureThreshold int
	// ErrorRateThreshold opens a closed breaker once the rolling error rate
	// over a full window reaches this fraction.
	ErrorRateThreshold float64
	// WindowSize bounds the rolling outcome window.
	WindowSize int
	// Timeout is how long an open breaker waits before probing.
	Timeout time.Duration
	// SuccessThreshold closes a half-open breaker after this many
	// consecutive successes.
	SuccessThreshold int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1 {
		c.ErrorRateThreshold = 0.5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	return c
}

// OpenError signals that a unit's breaker refused execution. RetryAfter
// tells the caller how long to back off before the breaker will probe again.
type OpenError struct {
	Unit       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for unit %q, retry in %s", e.Unit, e.RetryAfter)
}

// Stats is a read-only snapshot of a breaker.
type Stats struct {
	Unit                 string
	State                State
	ErrorRate            float64
	Failures             int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	WindowLen            int
	LastFailure          time.Time
	LastStateChange      time.Time
}

// Breaker guards a single unit. All methods are safe for concurrent use;
// the window and state only ever change together under one mutex, so a
// stats reader never observes a half-applied transition.
type Breaker struct {
	mu sync.Mutex

	unit   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	state                State
	results              *window.Ring[bool]
	failures             int
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	lastStateChange      time.Time
}

// New constructs a closed breaker for the named unit.
func New(unit string, cfg Config, logger *slog.Logger) *Breaker {
	cfg = cfg.withDefaults()
	if logger != nil {
		logger = logger.With("component", "breaker", "unit", unit)
	}
	now := time.Now
	return &Breaker{
		unit:            unit,
		cfg:             cfg,
		logger:          logger,
		now:             now,
		state:           StateClosed,
		results:         window.New[bool](cfg.WindowSize),
		lastStateChange: now(),
	}
}

// Check reports whether the unit may execute. It returns nil when execution
// is allowed and an *OpenError carrying the retry hint otherwise. An open
// breaker whose timeout has elapsed transitions to half-open and allows the
// call through as a probe.
func (b *Breaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if !b.now().Before(b.lastStateChange.Add(b.cfg.Timeout)) {
			b.transitionLocked(StateHalfOpen)
			return nil
		}
		return &OpenError{Unit: b.unit, RetryAfter: b.retryAfterLocked()}
	default:
		return &OpenError{Unit: b.unit, RetryAfter: b.cfg.Timeout}
	}
}

// CanExecute reports whether the unit may execute right now.
func (b *Breaker) CanExecute() bool {
	return b.Check() == nil
}

// RecordSuccess reports a successful execution of the unit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pushLocked(true)
	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure reports a failed execution of the unit.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pushLocked(false)
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold || b.errorRateTrippedLocked() {
			b.transitionLocked(StateOpen)
			if b.logger != nil {
				b.logger.Warn("breaker opened",
					"consecutive_failures", b.consecutiveFailures,
					"error_rate", b.errorRateLocked(),
					"error", err)
			}
		}
	case StateHalfOpen:
		// A single failure while probing reopens the breaker.
		b.transitionLocked(StateOpen)
		if b.logger != nil {
			b.logger.Warn("breaker reopened during probe", "error", err)
		}
	case StateOpen:
		// Late failure report; refreshes the retry hint only.
	}
}

// Stats returns a consistent read-only snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Unit:                 b.unit,
		State:                b.state,
		ErrorRate:            b.errorRateLocked(),
		Failures:             b.failures,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		WindowLen:            b.results.Len(),
		LastFailure:          b.lastFailure,
		LastStateChange:      b.lastStateChange,
	}
}

func (b *Breaker) pushLocked(ok bool) {
	evicted, had := b.results.Push(ok)
	if had && !evicted {
		b.failures--
	}
	if !ok {
		b.failures++
	}
}

func (b *Breaker) errorRateLocked() float64 {
	if b.results.Len() == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.results.Len())
}

// errorRateTrippedLocked applies the rolling-rate trigger only once the
// window is full, so a couple of early failures cannot open a fresh breaker
// ahead of the consecutive-failure threshold.
func (b *Breaker) errorRateTrippedLocked() bool {
	if b.results.Len() < b.cfg.WindowSize {
		return false
	}
	return b.errorRateLocked() >= b.cfg.ErrorRateThreshold
}

func (b *Breaker) retryAfterLocked() time.Duration {
	anchor := b.lastFailure
	if anchor.IsZero() {
		anchor = b.lastStateChange
	}
	remaining := b.cfg.Timeout - b.now().Sub(anchor)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (b *Breaker) transitionLocked(next State) {
	prev := b.state
	b.state = next
	b.lastStateChange = b.now()
	b.consecutiveSuccesses = 0
	if next == StateClosed {
		b.consecutiveFailures = 0
	}
	if b.logger != nil && prev != next {
		b.logger.Info("breaker state changed", "from", prev.String(), "to", next.String())
	}
}
