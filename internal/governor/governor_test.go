package governor

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/splax/loadguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Notify(sev domain.Severity, kind, title, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, sev.String()+":"+kind)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func sampleAt(cpu, mem float64) domain.TelemetrySample {
	return domain.TelemetrySample{
		Timestamp:        time.Now(),
		CPUPercent:       cpu,
		MemoryPercent:    mem,
		ResidentMemoryMB: 256,
	}
}

func TestBudgetShrinksUnderSustainedPressure(t *testing.T) {
	alerts := &recordingAlerter{}
	g := New(Config{
		MinWorkers:     2,
		SoftMaxWorkers: 20,
		HardMaxWorkers: 20,
		InitialBudget:  10,
		AdaptWindow:    4,
	}, testLogger(), alerts)

	prev := g.GetBudget()
	sawDecrease := false
	for i := 0; i < 100; i++ {
		if err := g.RecordUsage(sampleAt(95, 95)); err != nil {
			t.Fatalf("sample %d rejected: %v", i, err)
		}
		budget := g.GetBudget()
		if budget > prev {
			t.Fatalf("budget increased under pressure: %d -> %d", prev, budget)
		}
		if budget < prev {
			sawDecrease = true
		}
		if budget < 2 {
			t.Fatalf("budget %d dropped below floor", budget)
		}
		prev = budget
	}
	if !sawDecrease {
		t.Fatalf("expected budget to decrease under sustained pressure")
	}
	if prev != 2 {
		t.Fatalf("expected budget at floor 2 after 100 hot samples, got %d", prev)
	}
	if alerts.count() != 0 {
		t.Fatalf("valid samples must not raise alerts, got %d", alerts.count())
	}
}

func TestBudgetGrowsOnlyAfterCalmStreak(t *testing.T) {
	g := New(Config{
		MinWorkers:     2,
		SoftMaxWorkers: 8,
		HardMaxWorkers: 16,
		InitialBudget:  4,
		AdaptWindow:    4,
		IncreaseAfter:  3,
		CPUHighWater:   85,
		CPULowWater:    60,
		MemHighWater:   90,
		MemLowWater:    70,
	}, testLogger(), nil)

	g.RecordUsage(sampleAt(30, 30))
	g.RecordUsage(sampleAt(30, 30))
	if g.GetBudget() != 4 {
		t.Fatalf("budget grew before calm streak completed: %d", g.GetBudget())
	}
	g.RecordUsage(sampleAt(30, 30))
	if g.GetBudget() != 5 {
		t.Fatalf("expected +1 after 3 calm samples, got %d", g.GetBudget())
	}

	// A sample inside the hysteresis band resets the streak.
	g.RecordUsage(sampleAt(30, 30))
	g.RecordUsage(sampleAt(75, 75))
	g.RecordUsage(sampleAt(30, 30))
	g.RecordUsage(sampleAt(30, 30))
	if g.GetBudget() != 5 {
		t.Fatalf("streak should have been reset by warm sample, budget %d", g.GetBudget())
	}
	g.RecordUsage(sampleAt(30, 30))
	if g.GetBudget() != 6 {
		t.Fatalf("expected growth after fresh calm streak, got %d", g.GetBudget())
	}
}

func TestGrowthCapsAtSoftMax(t *testing.T) {
	g := New(Config{
		MinWorkers:     2,
		SoftMaxWorkers: 5,
		HardMaxWorkers: 16,
		InitialBudget:  5,
		IncreaseAfter:  1,
	}, testLogger(), nil)

	for i := 0; i < 20; i++ {
		g.RecordUsage(sampleAt(10, 10))
	}
	if g.GetBudget() != 5 {
		t.Fatalf("budget exceeded soft max: %d", g.GetBudget())
	}
}

func TestMalformedSampleRetainsBudgetAndWarns(t *testing.T) {
	alerts := &recordingAlerter{}
	g := New(Config{MinWorkers: 2, SoftMaxWorkers: 10, HardMaxWorkers: 10, InitialBudget: 6}, testLogger(), alerts)

	cases := []domain.TelemetrySample{
		sampleAt(math.NaN(), 50),
		sampleAt(-5, 50),
		sampleAt(50, 120),
		{CPUPercent: 50, MemoryPercent: 50, ResidentMemoryMB: -1},
	}
	for i, s := range cases {
		err := g.RecordUsage(s)
		if err == nil {
			t.Fatalf("case %d: expected rejection", i)
		}
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
		if g.GetBudget() != 6 {
			t.Fatalf("case %d: budget changed on rejected sample: %d", i, g.GetBudget())
		}
	}
	if alerts.count() != len(cases) {
		t.Fatalf("expected %d warning alerts, got %d", len(cases), alerts.count())
	}
	if g.Snapshot().Samples != 0 {
		t.Fatalf("rejected samples must not enter the history")
	}
}

func TestBudgetAlwaysWithinBounds(t *testing.T) {
	g := New(Config{
		MinWorkers:     3,
		SoftMaxWorkers: 12,
		HardMaxWorkers: 15,
		InitialBudget:  9,
		AdaptWindow:    3,
		IncreaseAfter:  1,
	}, testLogger(), nil)

	loads := []float64{10, 95, 40, 99, 5, 88, 60, 20, 97, 15}
	for i := 0; i < 500; i++ {
		load := loads[i%len(loads)]
		if err := g.RecordUsage(sampleAt(load, load*0.9)); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
		b := g.GetBudget()
		if b < 3 || b > 15 {
			t.Fatalf("budget %d escaped bounds [3, 15] at sample %d", b, i)
		}
	}
}

func TestConcurrentReadersNeverSeeTornBudget(t *testing.T) {
	g := New(Config{
		MinWorkers:     2,
		SoftMaxWorkers: 20,
		HardMaxWorkers: 20,
		InitialBudget:  10,
		AdaptWindow:    2,
		IncreaseAfter:  1,
	}, testLogger(), nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				load := float64((seed*37 + i*13) % 100)
				_ = g.RecordUsage(sampleAt(load, load))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				b := g.GetBudget()
				if b < 2 || b > 20 {
					t.Errorf("read budget %d outside committed range", b)
					return
				}
			}
		}()
	}

	// Writers finish first, then release the readers.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	close(stop)
	<-done
}

func TestHistoryBounded(t *testing.T) {
	g := New(Config{MinWorkers: 1, SoftMaxWorkers: 4, HardMaxWorkers: 4, InitialBudget: 2, HistorySize: 10}, testLogger(), nil)
	for i := 0; i < 50; i++ {
		g.RecordUsage(sampleAt(50, 50))
	}
	if got := g.Snapshot().Samples; got != 10 {
		t.Fatalf("expected history capped at 10, got %d", got)
	}
}
