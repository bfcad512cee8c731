package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/splax/loadguard/internal/domain"
)

// LocalProvider samples the host the process runs on. CPU utilisation is
// measured since the previous call, so the first sample reflects a very
// short interval.
type LocalProvider struct {
	proc *process.Process
	now  func() time.Time
}

// NewLocalProvider binds to the current process for RSS readings.
func NewLocalProvider() (*LocalProvider, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("bind to own process: %w", err)
	}
	return &LocalProvider{proc: proc, now: time.Now}, nil
}

// Sample implements Provider.
func (p *LocalProvider) Sample(ctx context.Context) (domain.TelemetrySample, error) {
	var sample domain.TelemetrySample

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample, fmt.Errorf("sample cpu: %w", err)
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("sample memory: %w", err)
	}

	info, err := p.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("sample rss: %w", err)
	}

	sample = domain.TelemetrySample{
		Timestamp:        p.now(),
		CPUPercent:       cpuPercent,
		MemoryPercent:    vm.UsedPercent,
		ResidentMemoryMB: float64(info.RSS) / (1024 * 1024),
	}
	return sample, nil
}
