// Package gate implements the admission limiter task submitters acquire
// through. Capacity tracks the governor's budget; per-unit eligibility is
// delegated to the unit's circuit breaker.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/splax/loadguard/internal/breaker"
)

// BudgetSource supplies the current worker budget. It is satisfied by
// governor.Governor.
type BudgetSource interface {
	GetBudget() int
}

// Observer receives admission lifecycle notifications. It is satisfied by
// metrics.Set. All methods may be called concurrently.
type Observer interface {
	AdmissionGranted(unit string)
	AdmissionRejected(unit, reason string)
	OutcomeRecorded(unit string, ok bool)
	CapacityChanged(capacity, inFlight int)
}

// AdmissionError reports that a caller abandoned the wait for a slot. No
// permit is consumed when it is returned.
type AdmissionError struct {
	Unit string
	Err  error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission abandoned for unit %q: %v", e.Unit, e.Err)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

type waiter struct {
	unit  string
	ready chan struct{}
}

// Gate is a counting limiter whose capacity can be resized at runtime.
// Shrinking never revokes outstanding permits; new admissions are withheld
// until in-flight work drains below the new cap. Waiter wake-up follows
// arrival order but strict FIFO is not guaranteed once cancellations occur.
type Gate struct {
	mu       sync.Mutex
	capacity int
	inFlight int
	waiters  []*waiter

	breakers *breaker.Registry
	observer Observer
	logger   *slog.Logger
}

// New constructs a gate with the given starting capacity.
func New(capacity int, breakers *breaker.Registry, observer Observer, logger *slog.Logger) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	if logger != nil {
		logger = logger.With("component", "gate")
	}
	return &Gate{
		capacity: capacity,
		breakers: breakers,
		observer: observer,
		logger:   logger,
	}
}

// Acquire obtains a permit to run one unit of work against the named unit.
// It fast-fails with *breaker.OpenError when the unit's breaker is open,
// and with *AdmissionError when ctx is cancelled or times out while
// waiting. Callers bound the wait with a context deadline.
func (g *Gate) Acquire(ctx context.Context, unit string) (*Permit, error) {
	if g.breakers != nil {
		if err := g.breakers.Get(unit).Check(); err != nil {
			g.notifyRejected(unit, "breaker_open")
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		g.notifyRejected(unit, "cancelled")
		return nil, &AdmissionError{Unit: unit, Err: err}
	}

	g.mu.Lock()
	if g.inFlight < g.capacity && len(g.waiters) == 0 {
		g.inFlight++
		g.mu.Unlock()
		g.notifyGranted(unit)
		return g.newPermit(unit), nil
	}
	w := &waiter{unit: unit, ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		g.notifyGranted(unit)
		return g.newPermit(unit), nil
	case <-ctx.Done():
		if g.abandon(w) {
			g.notifyRejected(unit, "timeout")
			return nil, &AdmissionError{Unit: unit, Err: ctx.Err()}
		}
		// The slot was granted while we were cancelling; keep it.
		g.notifyGranted(unit)
		return g.newPermit(unit), nil
	}
}

// TryAcquire obtains a permit without waiting. It returns nil, false when
// no slot is free, and an error only when the unit's breaker is open.
func (g *Gate) TryAcquire(unit string) (*Permit, bool, error) {
	if g.breakers != nil {
		if err := g.breakers.Get(unit).Check(); err != nil {
			g.notifyRejected(unit, "breaker_open")
			return nil, false, err
		}
	}
	g.mu.Lock()
	if g.inFlight < g.capacity && len(g.waiters) == 0 {
		g.inFlight++
		g.mu.Unlock()
		g.notifyGranted(unit)
		return g.newPermit(unit), true, nil
	}
	g.mu.Unlock()
	g.notifyRejected(unit, "full")
	return nil, false, nil
}

// Resize sets a new capacity. Growth wakes eligible waiters immediately;
// shrinking lets outstanding permits drain naturally.
func (g *Gate) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	g.mu.Lock()
	prev := g.capacity
	g.capacity = capacity
	g.grantLocked()
	inFlight := g.inFlight
	g.mu.Unlock()

	if prev != capacity {
		if g.logger != nil {
			g.logger.Info("gate capacity resized", "from", prev, "to", capacity, "in_flight", inFlight)
		}
		if g.observer != nil {
			g.observer.CapacityChanged(capacity, inFlight)
		}
	}
}

// ApplyBudget resizes the gate to the source's current budget.
func (g *Gate) ApplyBudget(src BudgetSource) {
	if src == nil {
		return
	}
	g.Resize(src.GetBudget())
}

// Snapshot is a read-only view of gate occupancy.
type Snapshot struct {
	Capacity int
	InFlight int
	Waiting  int
}

// Stats returns current occupancy.
func (g *Gate) Stats() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{Capacity: g.capacity, InFlight: g.inFlight, Waiting: len(g.waiters)}
}

// release returns one permit and wakes waiters that now fit.
func (g *Gate) release() {
	g.mu.Lock()
	g.inFlight--
	g.grantLocked()
	g.mu.Unlock()
}

// grantLocked hands free slots to the oldest waiters.
func (g *Gate) grantLocked() {
	for len(g.waiters) > 0 && g.inFlight < g.capacity {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.inFlight++
		close(w.ready)
	}
}

// abandon removes a cancelled waiter. It reports false when the waiter was
// already granted a slot, in which case the caller owns a permit.
func (g *Gate) abandon(w *waiter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, other := range g.waiters {
		if other == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return true
		}
	}
	select {
	case <-w.ready:
		return false
	default:
		// Not queued and not granted cannot happen; treat as abandoned.
		return true
	}
}

func (g *Gate) newPermit(unit string) *Permit {
	var b *breaker.Breaker
	if g.breakers != nil {
		b = g.breakers.Get(unit)
	}
	return &Permit{gate: g, unit: unit, breaker: b}
}

func (g *Gate) notifyGranted(unit string) {
	if g.observer != nil {
		g.observer.AdmissionGranted(unit)
	}
}

func (g *Gate) notifyRejected(unit, reason string) {
	if g.observer != nil {
		g.observer.AdmissionRejected(unit, reason)
	}
}
