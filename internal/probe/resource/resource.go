// Package resource implements the resource-snapshot probe: one-shot CPU,
// memory, and disk utilization with threshold classification. Local targets
// are sampled in-process; remote targets are sampled over SSH with small
// shell pipelines that need nothing beyond coreutils.
package resource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
	"github.com/dcadm/dcadm/pkg/sysinfo"
)

func init() {
	probe.Register(probe.KindResourceSnapshot, New)
}

// Default thresholds, percent used.
const (
	DefaultCPUThreshold  = 80
	DefaultMemThreshold  = 85
	DefaultDiskThreshold = 90
)

// warnFactor scales a threshold down to its warning level: utilization above
// factor*threshold but at or below the threshold classifies as warn.
const warnFactor = 0.7

// Utilization levels reported per metric.
const (
	LevelOK    = "ok"
	LevelWarn  = "warn"
	LevelAlert = "alert"
)

// Remote sampling pipelines. Kept POSIX-plain so they run on any distro
// without installed agents.
const (
	cpuCmd    = `grep 'cpu ' /proc/stat | awk '{usage=($2+$4)*100/($2+$4+$5)} END {print usage}'`
	memCmd    = `free | grep Mem | awk '{print $3/$2 * 100.0}'`
	uptimeCmd = `cat /proc/uptime | awk '{print $1}'`
)

type dialFunc func(ctx context.Context, t *target.Target) (connector.Connector, error)

// Probe samples utilization and classifies each metric against its
// threshold.
type Probe struct {
	cpuThreshold  float64
	memThreshold  float64
	diskThreshold float64
	interval      time.Duration
	diskPath      string

	dial dialFunc
}

// New builds the probe. Parameters: threshold-cpu, threshold-mem,
// threshold-disk (percent, 1-100), interval (CPU sampling window, local
// only), disk-path.
func New(params map[string]any) (probe.Probe, error) {
	p := &Probe{
		cpuThreshold:  float64(probe.GetInt(params, "threshold-cpu", DefaultCPUThreshold)),
		memThreshold:  float64(probe.GetInt(params, "threshold-mem", DefaultMemThreshold)),
		diskThreshold: float64(probe.GetInt(params, "threshold-disk", DefaultDiskThreshold)),
		diskPath:      probe.GetString(params, "disk-path", "/"),
		dial:          probe.Connect,
	}

	for name, v := range map[string]float64{
		"threshold-cpu":  p.cpuThreshold,
		"threshold-mem":  p.memThreshold,
		"threshold-disk": p.diskThreshold,
	} {
		if v < 1 || v > 100 {
			return nil, fmt.Errorf("parameter '%s' must be between 1 and 100, got %v", name, v)
		}
	}

	interval, err := probe.GetDuration(params, "interval", time.Second)
	if err != nil {
		return nil, err
	}
	if interval < 0 {
		return nil, fmt.Errorf("parameter 'interval' cannot be negative")
	}
	p.interval = interval

	return p, nil
}

func (p *Probe) Kind() string { return probe.KindResourceSnapshot }

func (p *Probe) Describe() string {
	return fmt.Sprintf("resource snapshot (cpu>%.0f%% mem>%.0f%% disk>%.0f%%)",
		p.cpuThreshold, p.memThreshold, p.diskThreshold)
}

// Run samples one target and classifies the readings. Threshold breaches
// are findings, not failures: the probe did its job, so the result is a
// success carrying alerts in the payload.
func (p *Probe) Run(ctx context.Context, t *target.Target) *probe.Result {
	if t.IsLocal() {
		return p.runLocal(ctx, t)
	}
	return p.runRemote(ctx, t)
}

func (p *Probe) runLocal(ctx context.Context, t *target.Target) *probe.Result {
	snap, err := sysinfo.Collect(ctx, p.interval, p.diskPath)
	if err != nil {
		if ctx.Err() != nil {
			return probe.TimedOut(t, 0)
		}
		return probe.Failure(t, probe.ErrProbe, err)
	}

	payload := p.buildPayload(snap.CPUPercent, snap.MemPercent, snap.DiskPercent)
	payload["load1"] = snap.Load1
	if snap.Uptime > 0 {
		payload["uptime_seconds"] = snap.Uptime.Seconds()
	}
	if id, err := sysinfo.Describe(ctx); err == nil {
		payload["os"] = fmt.Sprintf("%s (%s)", id.OS, id.Platform)
	}

	return probe.Success(t, summarize(payload), payload)
}

func (p *Probe) runRemote(ctx context.Context, t *target.Target) *probe.Result {
	conn, err := p.dial(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return probe.TimedOut(t, 0)
		}
		return probe.Failure(t, probe.ErrConnection, err)
	}
	defer conn.Close()

	cpu, err := p.sampleFloat(ctx, conn, cpuCmd)
	if err != nil {
		return p.remoteFailure(ctx, t, "cpu", err)
	}
	mem, err := p.sampleFloat(ctx, conn, memCmd)
	if err != nil {
		return p.remoteFailure(ctx, t, "memory", err)
	}
	disk, err := p.sampleFloat(ctx, conn, p.diskCmd())
	if err != nil {
		return p.remoteFailure(ctx, t, "disk", err)
	}

	payload := p.buildPayload(cpu, mem, disk)
	if up, err := p.sampleFloat(ctx, conn, uptimeCmd); err == nil {
		payload["uptime_seconds"] = up
	}

	return probe.Success(t, summarize(payload), payload)
}

func (p *Probe) remoteFailure(ctx context.Context, t *target.Target, metric string, err error) *probe.Result {
	if ctx.Err() != nil {
		return probe.TimedOut(t, 0)
	}
	return probe.Failuref(t, probe.ErrProbe, "sampling %s: %v", metric, err)
}

func (p *Probe) diskCmd() string {
	return fmt.Sprintf(`df %s | tail -1 | awk '{print $5}' | sed 's/%%//'`, shellQuote(p.diskPath))
}

// sampleFloat runs a pipeline that prints a single number.
func (p *Probe) sampleFloat(ctx context.Context, conn connector.Connector, cmd string) (float64, error) {
	result, err := conn.Execute(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if result.ExitCode != 0 {
		return 0, fmt.Errorf("exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	out := strings.TrimSpace(result.Stdout)
	v, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected output %q", out)
	}
	return v, nil
}

func (p *Probe) buildPayload(cpu, mem, disk float64) map[string]any {
	var alerts, warnings []string

	add := func(metric string, value, threshold float64) string {
		level := classify(value, threshold)
		switch level {
		case LevelAlert:
			alerts = append(alerts, fmt.Sprintf("%s usage %.1f%% exceeds threshold %.0f%%", metric, value, threshold))
		case LevelWarn:
			warnings = append(warnings, fmt.Sprintf("%s usage %.1f%% approaching threshold %.0f%%", metric, value, threshold))
		}
		return level
	}

	payload := map[string]any{
		"cpu_percent":  round1(cpu),
		"cpu_level":    add("cpu", cpu, p.cpuThreshold),
		"mem_percent":  round1(mem),
		"mem_level":    add("memory", mem, p.memThreshold),
		"disk_percent": round1(disk),
		"disk_level":   add("disk", disk, p.diskThreshold),
		"disk_path":    p.diskPath,
	}
	if len(alerts) > 0 {
		payload["alerts"] = alerts
	}
	if len(warnings) > 0 {
		payload["warnings"] = warnings
	}
	return payload
}

// classify maps a reading to its level. Values above the threshold alert;
// values above warnFactor*threshold warn.
func classify(value, threshold float64) string {
	switch {
	case value > threshold:
		return LevelAlert
	case value > threshold*warnFactor:
		return LevelWarn
	default:
		return LevelOK
	}
}

func summarize(payload map[string]any) string {
	alerts, _ := payload["alerts"].([]string)
	warnings, _ := payload["warnings"].([]string)
	switch {
	case len(alerts) > 0:
		return fmt.Sprintf("%d resource alert(s)", len(alerts))
	case len(warnings) > 0:
		return fmt.Sprintf("%d resource warning(s)", len(warnings))
	}
	return "all systems normal"
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Ensure Probe implements the probe.Probe interface.
var _ probe.Probe = (*Probe)(nil)
