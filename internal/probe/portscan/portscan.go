// Package portscan implements the port-scan probe behind netcheck: a
// reachability check followed by bounded TCP dials against a port list.
// Ports are probed independently, so one dead service never hides the state
// of the others.
package portscan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-ping/ping"

	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

func init() {
	probe.Register(probe.KindPortScan, New)
}

// DefaultPorts are scanned when the invocation names none: SSH, HTTP, HTTPS.
var DefaultPorts = []int{22, 80, 443}

// DefaultDialTimeout bounds each individual port dial.
const DefaultDialTimeout = 2 * time.Second

// Port states reported in the payload.
const (
	StateOpen     = "open"
	StateClosed   = "closed"
	StateFiltered = "filtered"
)

// Probe scans a port list on each target.
type Probe struct {
	ports       []int
	dialTimeout time.Duration
	icmp        bool
}

// New builds the probe. Parameters: ports (list, default 22/80/443),
// dial-timeout, icmp (use an ICMP echo for the reachability check instead
// of TCP).
func New(params map[string]any) (probe.Probe, error) {
	ports, err := probe.GetIntSlice(params, "ports", DefaultPorts)
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("parameter 'ports' cannot be empty")
	}
	for _, port := range ports {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %d", port)
		}
	}

	dialTimeout, err := probe.GetDuration(params, "dial-timeout", DefaultDialTimeout)
	if err != nil {
		return nil, err
	}
	if dialTimeout <= 0 {
		return nil, fmt.Errorf("parameter 'dial-timeout' must be positive")
	}

	return &Probe{
		ports:       ports,
		dialTimeout: dialTimeout,
		icmp:        probe.GetBool(params, "icmp", false),
	}, nil
}

func (p *Probe) Kind() string { return probe.KindPortScan }

func (p *Probe) Describe() string {
	return fmt.Sprintf("port scan of %d port(s), %s dial timeout", len(p.ports), p.dialTimeout)
}

// Run dials every port and decides reachability from the answers: any open
// or refused port proves the host is up. Closed and filtered ports are
// findings, not failures; only a host that answers nothing fails the target.
func (p *Probe) Run(ctx context.Context, t *target.Target) *probe.Result {
	payload := map[string]any{}

	if p.icmp {
		latency, err := p.pingHost(ctx, t.Host)
		if err != nil {
			if ctx.Err() != nil {
				return probe.TimedOut(t, 0)
			}
			return probe.Failuref(t, probe.ErrConnection, "host unreachable: %v", err)
		}
		payload["reachable_via"] = "icmp"
		payload["latency_ms"] = float64(latency.Microseconds()) / 1000
	}

	states := p.scan(ctx, t.Host)
	open, answered := 0, 0
	portsPayload := make(map[string]string, len(states))
	for port, state := range states {
		portsPayload[strconv.Itoa(port)] = state
		if state != StateFiltered {
			answered++
		}
		if state == StateOpen {
			open++
		}
	}

	if !p.icmp {
		if answered == 0 {
			if ctx.Err() != nil {
				return probe.TimedOut(t, 0)
			}
			return probe.Failuref(t, probe.ErrConnection,
				"host unreachable: no response on %d port(s)", len(p.ports))
		}
		payload["reachable_via"] = "tcp"
	}

	payload["ports"] = portsPayload
	payload["open_count"] = open

	msg := fmt.Sprintf("%d/%d ports open", open, len(p.ports))
	return probe.Success(t, msg, payload)
}

// pingHost sends one unprivileged ICMP echo and waits for the reply.
func (p *Probe) pingHost(ctx context.Context, host string) (time.Duration, error) {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return 0, fmt.Errorf("icmp setup: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = p.dialTimeout
	pinger.SetPrivileged(false)

	go func() {
		<-ctx.Done()
		pinger.Stop()
	}()

	if err := pinger.Run(); err != nil {
		return 0, fmt.Errorf("icmp echo: %w", err)
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("no icmp echo reply within %s", p.dialTimeout)
	}
	return stats.AvgRtt, nil
}

// scan dials every port concurrently. The port list is short, so one
// goroutine per port is fine; each writes only its own slot.
func (p *Probe) scan(ctx context.Context, host string) map[int]string {
	type entry struct {
		port  int
		state string
	}
	entries := make([]entry, len(p.ports))

	var wg sync.WaitGroup
	for i, port := range p.ports {
		wg.Add(1)
		go func(i, port int) {
			defer wg.Done()
			entries[i] = entry{port, p.dialPort(ctx, host, port)}
		}(i, port)
	}
	wg.Wait()

	states := make(map[int]string, len(entries))
	for _, e := range entries {
		states[e.port] = e.state
	}
	return states
}

func (p *Probe) dialPort(ctx context.Context, host string, port int) string {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
		return StateOpen
	}
	if isRefused(err) {
		return StateClosed
	}
	// Timeouts, unreachable routes, and cancellation all look the same
	// from outside: no answer.
	return StateFiltered
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Ensure Probe implements the probe.Probe interface.
var _ probe.Probe = (*Probe)(nil)
