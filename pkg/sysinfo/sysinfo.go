// Package sysinfo samples resource utilization and identity of the machine
// dcadm runs on. Remote hosts are sampled over SSH by the probes instead;
// this package never touches the network.
package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time reading of local resource utilization.
// Percentages are 0-100.
type Snapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
	DiskPath    string
	Load1       float64
	Uptime      time.Duration
	TakenAt     time.Time
}

// Collect takes a snapshot. The interval is the CPU sampling window; zero
// means an instantaneous reading. diskPath defaults to the root filesystem.
func Collect(ctx context.Context, interval time.Duration, diskPath string) (*Snapshot, error) {
	if diskPath == "" {
		diskPath = "/"
	}

	cpuPcts, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return nil, fmt.Errorf("sampling cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sampling memory: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return nil, fmt.Errorf("sampling disk %s: %w", diskPath, err)
	}

	snap := &Snapshot{
		MemPercent:  vm.UsedPercent,
		DiskPercent: du.UsedPercent,
		DiskPath:    diskPath,
		TakenAt:     time.Now(),
	}
	if len(cpuPcts) > 0 {
		snap.CPUPercent = cpuPcts[0]
	}

	// Uptime and load average are best-effort; not every platform
	// reports them.
	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.Uptime = time.Duration(up) * time.Second
	}
	if la, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = la.Load1
	}

	return snap, nil
}

// Identity describes the local machine.
type Identity struct {
	Hostname string
	OS       string
	Platform string
	Kernel   string
	Arch     string
}

// Describe collects the local machine's identity.
func Describe(ctx context.Context) (*Identity, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}
	id := &Identity{
		Hostname: info.Hostname,
		OS:       info.OS,
		Platform: info.Platform,
		Kernel:   info.KernelVersion,
		Arch:     info.KernelArch,
	}
	if info.PlatformVersion != "" {
		id.Platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	}
	return id, nil
}
