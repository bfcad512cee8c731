package telemetry

import (
	"context"
	"math/rand"
	"time"

	"github.com/splax/loadguard/internal/domain"
)

// SimulatedProvider generates synthetic load as a bounded random walk
// around a configurable base. It backs demos and tests where real host
// pressure would make behaviour non-deterministic.
type SimulatedProvider struct {
	random *rand.Rand
	now    func() time.Time

	cpu float64
	mem float64
	rss float64
}

// NewSimulatedProvider starts the walk at the given base utilisation.
func NewSimulatedProvider(baseCPU, baseMem float64, seed int64) *SimulatedProvider {
	return &SimulatedProvider{
		random: rand.New(rand.NewSource(seed)),
		now:    time.Now,
		cpu:    clampPercent(baseCPU),
		mem:    clampPercent(baseMem),
		rss:    256,
	}
}

// Sample implements Provider. It never fails.
func (p *SimulatedProvider) Sample(_ context.Context) (domain.TelemetrySample, error) {
	p.cpu = clampPercent(p.cpu + p.random.Float64()*10 - 5)
	p.mem = clampPercent(p.mem + p.random.Float64()*6 - 3)
	p.rss += p.random.Float64()*16 - 8
	if p.rss < 64 {
		p.rss = 64
	}
	return domain.TelemetrySample{
		Timestamp:        p.now(),
		CPUPercent:       p.cpu,
		MemoryPercent:    p.mem,
		ResidentMemoryMB: p.rss,
	}, nil
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
