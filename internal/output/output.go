// Package output provides formatted output for probe reports.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/report"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Hints printed under an unreachable host so operators know where to start.
var connectionHints = []string{
	"check if the host is online",
	"verify the SSH service is running",
	"check firewall settings",
	"verify network connectivity",
}

// Output handles formatted output.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

// Render prints the full report: a header, one block per target in dispatch
// order, and the recap line. Failed and timed-out targets are always shown
// with their message; omitting a host an operator asked about is never okay.
func (o *Output) Render(rep *report.Report) {
	o.printf("\n%s %s\n", o.color(colorBold, "PROBE"), rep.Probe)
	if rep.Description != "" {
		o.printf("%s\n", o.color(colorGray, rep.Description))
	}
	if o.debug {
		o.printf("%s\n", o.color(colorGray, "run "+rep.RunID))
	}

	for i := range rep.Results {
		o.renderResult(&rep.Results[i])
	}

	o.recap(rep)
}

// renderResult prints one target's block.
func (o *Output) renderResult(res *probe.Result) {
	var indicator, statusColor string
	switch res.Outcome {
	case probe.OutcomeSuccess:
		indicator = "✓"
		statusColor = colorGreen
	case probe.OutcomeTimeout:
		indicator = "⊙"
		statusColor = colorYellow
	default:
		indicator = "✗"
		statusColor = colorRed
	}

	duration := o.color(colorGray, fmt.Sprintf("(%s)", res.Duration.Round(time.Millisecond)))

	msg := res.Message
	if res.Outcome == probe.OutcomeFailure && res.ErrKind != "" {
		msg = fmt.Sprintf("%s: %s", res.ErrKind, res.Message)
	}
	o.printf("  %s %s  %s %s\n", o.color(statusColor, indicator), res.Target, msg, duration)

	if res.Outcome == probe.OutcomeSuccess {
		o.renderPayload(res.Payload)
	}
	if res.ErrKind == probe.ErrConnection {
		o.printf("      %s\n", o.color(colorGray, "troubleshooting:"))
		for i, hint := range connectionHints {
			o.printf("      %s\n", o.color(colorGray, fmt.Sprintf("%d. %s", i+1, hint)))
		}
	}
}

// recap prints the summary line and wall time.
func (o *Output) recap(rep *report.Report) {
	ok := o.color(colorGreen, fmt.Sprintf("ok=%d", rep.Counts.Success))
	failed := o.color(colorRed, fmt.Sprintf("failed=%d", rep.Counts.Failure))
	timeout := o.color(colorYellow, fmt.Sprintf("timeout=%d", rep.Counts.Timeout))

	o.printf("\n%s %s %s %s", o.color(colorBold, "RECAP"), ok, failed, timeout)
	o.printf(" %s\n", o.color(colorGray, fmt.Sprintf("(%.2fs)", rep.Elapsed.Seconds())))
}

// RenderJSON prints the report as indented JSON for scripting.
func (o *Output) RenderJSON(rep *report.Report) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// renderPayload prints a probe's structured findings. Key sets follow the
// probe that produced them; unknown shapes fall back to sorted key: value
// lines in debug mode.
func (o *Output) renderPayload(payload map[string]any) {
	if len(payload) == 0 {
		return
	}

	switch {
	case payload["ports"] != nil:
		o.renderPorts(payload)
	case payload["cpu_percent"] != nil:
		o.renderResources(payload)
	case payload["lines"] != nil:
		o.renderLogLines(payload)
	case payload["files"] != nil:
		o.renderHashes(payload)
	case payload["outdated"] != nil:
		o.renderPackages(payload)
	case payload["users"] != nil:
		o.renderUsers(payload)
	default:
		if o.debug {
			o.renderGeneric(payload)
		}
	}
}

func (o *Output) renderPorts(payload map[string]any) {
	if via, ok := payload["reachable_via"].(string); ok {
		line := "reachable via " + via
		if latency, ok := payload["latency_ms"].(float64); ok {
			line += fmt.Sprintf(" (%.1fms)", latency)
		}
		o.printf("      %s\n", o.color(colorGray, line))
	}

	ports, ok := payload["ports"].(map[string]string)
	if !ok {
		return
	}
	numbers := make([]int, 0, len(ports))
	for p := range ports {
		if n, err := strconv.Atoi(p); err == nil {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		state := ports[strconv.Itoa(n)]
		c := colorGray
		switch state {
		case "open":
			c = colorGreen
		case "closed":
			c = colorRed
		}
		o.printf("      port %-5d %s\n", n, o.color(c, state))
	}
}

func (o *Output) renderResources(payload map[string]any) {
	metric := func(label, pctKey, levelKey, suffix string) {
		pct, ok := payload[pctKey].(float64)
		if !ok {
			return
		}
		level, _ := payload[levelKey].(string)
		c := colorGreen
		switch level {
		case "warn":
			c = colorYellow
		case "alert":
			c = colorRed
		}
		o.printf("      %-7s %s%s\n", label, o.color(c, fmt.Sprintf("%5.1f%% %s", pct, level)), suffix)
	}

	metric("cpu", "cpu_percent", "cpu_level", "")
	metric("memory", "mem_percent", "mem_level", "")
	diskSuffix := ""
	if path, ok := payload["disk_path"].(string); ok && path != "/" {
		diskSuffix = o.color(colorGray, " "+path)
	}
	metric("disk", "disk_percent", "disk_level", diskSuffix)

	if up, ok := payload["uptime_seconds"].(float64); ok {
		d := time.Duration(up) * time.Second
		o.printf("      %-7s %s\n", "uptime", d.Round(time.Second))
	}

	if alerts, ok := payload["alerts"].([]string); ok {
		for _, a := range alerts {
			o.printf("      %s\n", o.color(colorRed, "* "+a))
		}
	}
	if warnings, ok := payload["warnings"].([]string); ok {
		for _, w := range warnings {
			o.printf("      %s\n", o.color(colorYellow, "* "+w))
		}
	}
}

func (o *Output) renderLogLines(payload map[string]any) {
	lines, ok := payload["lines"].([]string)
	if !ok {
		return
	}
	for _, line := range lines {
		o.printf("      %s\n", line)
	}
}

func (o *Output) renderHashes(payload map[string]any) {
	files, ok := payload["files"].([]map[string]any)
	if !ok {
		return
	}
	for _, f := range files {
		digest, _ := f["digest"].(string)
		path, _ := f["path"].(string)
		size, _ := f["size"].(int64)
		o.printf("      %s  %s %s\n",
			o.color(colorCyan, digest), path, o.color(colorGray, fmt.Sprintf("(%s)", humanBytes(size))))
	}
}

func (o *Output) renderPackages(payload map[string]any) {
	outdated, ok := payload["outdated"].([]map[string]string)
	if !ok {
		return
	}
	for _, pkg := range outdated {
		line := pkg["name"]
		if pkg["current"] != "" || pkg["candidate"] != "" {
			line = fmt.Sprintf("%s %s -> %s", pkg["name"], pkg["current"], pkg["candidate"])
		}
		c := colorYellow
		if pkg["security"] == "true" {
			c = colorRed
		}
		o.printf("      %s\n", o.color(c, line))
	}
}

func (o *Output) renderUsers(payload map[string]any) {
	users, ok := payload["users"].([]map[string]any)
	if !ok {
		return
	}
	for _, u := range users {
		o.printf("      %-16v uid=%-6v %v %v\n", u["name"], u["uid"], u["home"],
			o.color(colorGray, fmt.Sprint(u["shell"])))
	}
}

func (o *Output) renderGeneric(payload map[string]any) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		o.printf("      %s %v\n", o.color(colorGray, k+":"), payload[k])
	}
}

// humanBytes renders a byte count with a sensible unit.
func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorBlue, "INFO"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
