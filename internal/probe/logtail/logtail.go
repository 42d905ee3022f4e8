// Package logtail implements the log-tail probe: the last N lines of a log
// file, optionally filtered. Local targets read the file directly without
// loading it whole; remote targets run tail over the connector and filter
// client-side.
package logtail

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

func init() {
	probe.Register(probe.KindLogTail, New)
}

// DefaultTailLines is how many lines are examined when the invocation does
// not say.
const DefaultTailLines = 100

// errorMarkers classify a line as an error for the errors-only filter. The
// comparison is case-insensitive.
var errorMarkers = []string{"ERROR", "FAIL"}

type dialFunc func(ctx context.Context, t *target.Target) (connector.Connector, error)

// Probe tails one log file per target.
type Probe struct {
	path       string
	tail       int
	errorsOnly bool
	match      string

	dial dialFunc
}

// New builds the probe. Parameters: path (required), tail (line count,
// default 100), errors-only (keep only lines mentioning errors), match
// (keep only lines containing a literal substring).
func New(params map[string]any) (probe.Probe, error) {
	path, err := probe.RequireString(params, "path")
	if err != nil {
		return nil, err
	}

	p := &Probe{
		path:       path,
		tail:       probe.GetInt(params, "tail", DefaultTailLines),
		errorsOnly: probe.GetBool(params, "errors-only", false),
		match:      probe.GetString(params, "match", ""),
		dial:       probe.Connect,
	}
	if p.tail < 1 {
		return nil, fmt.Errorf("parameter 'tail' must be at least 1, got %d", p.tail)
	}
	return p, nil
}

func (p *Probe) Kind() string { return probe.KindLogTail }

func (p *Probe) Describe() string {
	desc := fmt.Sprintf("tail %d lines of %s", p.tail, p.path)
	if p.errorsOnly {
		desc += " (errors only)"
	}
	if p.match != "" {
		desc += fmt.Sprintf(" matching %q", p.match)
	}
	return desc
}

// Run tails the file on one target. A missing or unreadable file is a probe
// failure; an empty or fully filtered result is a success with zero lines.
func (p *Probe) Run(ctx context.Context, t *target.Target) *probe.Result {
	var (
		lines []string
		err   error
	)
	if t.IsLocal() {
		lines, err = tailFile(p.path, p.tail)
		if err != nil {
			return probe.Failure(t, probe.ErrProbe, err)
		}
	} else {
		lines, err = p.tailRemote(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return probe.TimedOut(t, 0)
			}
			return probe.Failure(t, probe.ErrProbe, err)
		}
	}

	scanned := len(lines)
	lines = p.filter(lines)

	payload := map[string]any{
		"path":    p.path,
		"lines":   lines,
		"scanned": scanned,
		"matched": len(lines),
	}
	return probe.Success(t, p.summary(scanned, len(lines)), payload)
}

func (p *Probe) tailRemote(ctx context.Context, t *target.Target) ([]string, error) {
	conn, err := p.dial(ctx, t)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	cmd := fmt.Sprintf("tail -n %d %s", p.tail, shellQuote(p.path))
	result, err := conn.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("tail exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	out := strings.TrimRight(result.Stdout, "\n")
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (p *Probe) filter(lines []string) []string {
	if !p.errorsOnly && p.match == "" {
		return lines
	}
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if p.errorsOnly && !isErrorLine(line) {
			continue
		}
		if p.match != "" && !strings.Contains(line, p.match) {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

func (p *Probe) summary(scanned, matched int) string {
	if p.errorsOnly || p.match != "" {
		return fmt.Sprintf("%d of %d line(s) matched", matched, scanned)
	}
	return fmt.Sprintf("%d line(s)", matched)
}

func isErrorLine(line string) bool {
	upper := strings.ToUpper(line)
	for _, marker := range errorMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// tailFile returns the last n lines of a file without reading it whole. It
// pulls fixed-size chunks from the end until enough newlines have been seen.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	const chunk = 32 * 1024
	var buf []byte
	offset := size
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(chunk)
		if step > offset {
			step = offset
		}
		offset -= step

		head := make([]byte, step)
		if _, err := f.ReadAt(head, offset); err != nil {
			return nil, err
		}
		buf = append(head, buf...)
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// shellQuote wraps a string in single quotes for safe shell usage.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Ensure Probe implements the probe.Probe interface.
var _ probe.Probe = (*Probe)(nil)
