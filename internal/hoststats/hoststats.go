// Package hoststats samples host utilization through gopsutil.
package hoststats

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/harrison/sentinel/internal/models"
)

// CPUSampleWindow is how long cpu.Percent measures for one sample.
const CPUSampleWindow = 100 * time.Millisecond

// Stats is one utilization sample, all values in percent.
type Stats struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// Sampler reads host utilization.
type Sampler interface {
	Sample(ctx context.Context) (Stats, error)
	Resource(ctx context.Context, kind models.ResourceKind) (float64, error)
}

// Host samples the local machine. DiskPath defaults to "/".
type Host struct {
	DiskPath string
}

// NewHost creates a sampler for the local machine.
func NewHost() *Host {
	return &Host{DiskPath: "/"}
}

// Sample reads cpu, memory and disk. Every gauge is attempted; the first
// error is returned alongside whatever was read.
func (h *Host) Sample(ctx context.Context) (Stats, error) {
	var stats Stats
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if v, err := h.cpu(ctx); err != nil {
		keep(err)
	} else {
		stats.CPUPercent = v
	}
	if v, err := h.memory(ctx); err != nil {
		keep(err)
	} else {
		stats.MemoryPercent = v
	}
	if v, err := h.disk(ctx); err != nil {
		keep(err)
	} else {
		stats.DiskPercent = v
	}
	return stats, firstErr
}

// Resource reads a single resource's utilization.
func (h *Host) Resource(ctx context.Context, kind models.ResourceKind) (float64, error) {
	switch kind {
	case models.ResourceCPU:
		return h.cpu(ctx)
	case models.ResourceMemory:
		return h.memory(ctx)
	case models.ResourceDisk:
		return h.disk(ctx)
	default:
		return 0, fmt.Errorf("unknown resource %q", kind)
	}
}

func (h *Host) cpu(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, CPUSampleWindow, false)
	if err != nil {
		return 0, fmt.Errorf("cpu usage: %w", err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("cpu usage: no sample")
	}
	return percents[0], nil
}

func (h *Host) memory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("memory usage: %w", err)
	}
	return vm.UsedPercent, nil
}

func (h *Host) disk(ctx context.Context) (float64, error) {
	path := h.DiskPath
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return usage.UsedPercent, nil
}
