package metrics

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

var startedAt = time.Now()

// Usage is a resource sample of one service process.
type Usage struct {
	PID        int32     `json:"pid" yaml:"pid"`
	CPUPercent float64   `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb" yaml:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss" yaml:"memory_rss"`
	NumThreads int32     `json:"num_threads" yaml:"num_threads"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

// SampleProcess reads CPU and memory usage of pid.
func SampleProcess(ctx context.Context, pid int) (Usage, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	// CPU percent is lifetime-averaged by gopsutil; 0 when unavailable
	cpuPct, _ := proc.CPUPercentWithContext(ctx)
	threads, _ := proc.NumThreadsWithContext(ctx)
	return Usage{
		PID:        int32(pid),
		CPUPercent: cpuPct,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: threads,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// Snapshot is a host-level overview.
type Snapshot struct {
	Timestamp  time.Time `json:"ts" yaml:"ts"`
	UptimeSec  uint64    `json:"uptime_sec" yaml:"uptime_sec"`
	PortsInUse []int     `json:"ports_in_use" yaml:"ports_in_use"`
	CPUPercent float64   `json:"cpu_percent" yaml:"cpu_percent"`
	MemMB      uint64    `json:"mem_mb" yaml:"mem_mb"`
}

// HostSnapshot reports daemon uptime, the given ports sorted and deduplicated,
// host CPU usage and used memory.
func HostSnapshot(ctx context.Context, ports []int) (Snapshot, error) {
	s := Snapshot{
		Timestamp: time.Now().UTC(),
		UptimeSec: uint64(time.Since(startedAt).Seconds()),
	}
	ps := slices.Clone(ports)
	slices.Sort(ps)
	s.PortsInUse = slices.Compact(ps)
	if s.PortsInUse == nil {
		s.PortsInUse = []int{}
	}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("virtual memory: %w", err)
	}
	s.MemMB = vm.Used / 1024 / 1024
	return s, nil
}
