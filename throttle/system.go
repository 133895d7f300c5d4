package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemSampler reads host CPU, memory and load through gopsutil.
type SystemSampler struct {
	// CPUWindow is how long CPU usage is measured per sample. Zero compares
	// against the previous call, which is what a periodic sampler wants.
	CPUWindow time.Duration
}

// Sample reads current pressure. Load average is unavailable on some
// platforms; it then reads as zero.
func (s SystemSampler) Sample(ctx context.Context) (Sample, error) {
	out := Sample{At: time.Now()}

	pct, err := cpu.PercentWithContext(ctx, s.CPUWindow, false)
	if err != nil {
		return out, fmt.Errorf("cpu: %w", err)
	}
	if len(pct) > 0 {
		out.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return out, fmt.Errorf("memory: %w", err)
	}
	out.MemoryPercent = vm.UsedPercent

	if avg, err := load.AvgWithContext(ctx); err == nil {
		cpus, err := cpu.CountsWithContext(ctx, true)
		if err != nil || cpus < 1 {
			cpus = 1
		}
		out.LoadPerCPU = avg.Load1 / float64(cpus)
	}
	return out, nil
}
