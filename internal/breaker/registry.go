package breaker

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry hands out one breaker per unit id, creating them lazily from a
// single immutable config.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	logger   *slog.Logger
	breakers map[string]*Breaker
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the unit, creating it on first use.
func (r *Registry) Get(unit string) *Breaker {
	r.mu.RLock()
	b := r.breakers[unit]
	r.mu.RUnlock()
	if b != nil {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b = r.breakers[unit]; b == nil {
		b = New(unit, r.cfg, r.logger)
		r.breakers[unit] = b
	}
	return b
}

// Snapshot returns stats for every known breaker, ordered by unit id.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	stats := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	r.mu.RUnlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Unit < stats[j].Unit })
	return stats
}

// OpenUnits lists units whose breaker is currently open, ordered by unit id.
func (r *Registry) OpenUnits() []string {
	var units []string
	for _, s := range r.Snapshot() {
		if s.State == StateOpen {
			units = append(units, s.Unit)
		}
	}
	return units
}
