package gate

import (
	"sync"

	"github.com/splax/loadguard/internal/breaker"
)

// Permit represents one admitted unit of work. Exactly one of Succeed,
// Fail, or Release must be called when the work finishes; extra calls are
// no-ops, so a permit can never be double-released.
type Permit struct {
	gate    *Gate
	unit    string
	breaker *breaker.Breaker
	once    sync.Once
}

// Unit returns the unit id the permit was acquired for.
func (p *Permit) Unit() string { return p.unit }

// Succeed reports a successful outcome to the unit's breaker and returns
// the slot.
func (p *Permit) Succeed() {
	p.once.Do(func() {
		if p.breaker != nil {
			p.breaker.RecordSuccess()
		}
		if p.gate.observer != nil {
			p.gate.observer.OutcomeRecorded(p.unit, true)
		}
		p.gate.release()
	})
}

// Fail reports a failed outcome to the unit's breaker and returns the slot.
func (p *Permit) Fail(err error) {
	p.once.Do(func() {
		if p.breaker != nil {
			p.breaker.RecordFailure(err)
		}
		if p.gate.observer != nil {
			p.gate.observer.OutcomeRecorded(p.unit, false)
		}
		p.gate.release()
	})
}

// Release returns the slot without reporting an outcome. Use it when the
// admitted work was never attempted.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.gate.release()
	})
}
