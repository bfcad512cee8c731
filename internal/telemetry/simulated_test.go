package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestSimulatedProviderStaysInRange(t *testing.T) {
	p := NewSimulatedProvider(75, 60, 42)
	fixed := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	for i := 0; i < 1000; i++ {
		sample, err := p.Sample(context.Background())
		if err != nil {
			t.Fatalf("sample %d failed: %v", i, err)
		}
		if err := sample.Validate(); err != nil {
			t.Fatalf("sample %d invalid: %v", i, err)
		}
		if sample.Timestamp != fixed {
			t.Fatalf("sample %d missing injected timestamp", i)
		}
	}
}

func TestSimulatedProviderIsDeterministicPerSeed(t *testing.T) {
	a := NewSimulatedProvider(50, 50, 7)
	b := NewSimulatedProvider(50, 50, 7)
	for i := 0; i < 20; i++ {
		sa, _ := a.Sample(context.Background())
		sb, _ := b.Sample(context.Background())
		if sa.CPUPercent != sb.CPUPercent || sa.MemoryPercent != sb.MemoryPercent {
			t.Fatalf("walk diverged at step %d with identical seeds", i)
		}
	}
}
