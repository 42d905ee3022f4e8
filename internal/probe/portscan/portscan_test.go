package portscan

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

// listen opens a listener on an ephemeral port and returns the port.
func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return ln, port
}

// freePort returns a port nothing is listening on.
func freePort(t *testing.T) int {
	t.Helper()
	ln, port := listen(t)
	ln.Close()
	return port
}

func localhostTarget() *target.Target {
	return &target.Target{Name: "127.0.0.1", Host: "127.0.0.1"}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"defaults", nil, false},
		{"custom ports", map[string]any{"ports": []int{8080}}, false},
		{"empty ports", map[string]any{"ports": []int{}}, true},
		{"port zero", map[string]any{"ports": []int{0}}, true},
		{"port too high", map[string]any{"ports": []int{70000}}, true},
		{"bad timeout", map[string]any{"dial-timeout": "0s"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPorts(t *testing.T) {
	built, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	p := built.(*Probe)
	if len(p.ports) != 3 || p.ports[0] != 22 || p.ports[1] != 80 || p.ports[2] != 443 {
		t.Errorf("default ports = %v", p.ports)
	}
	if p.dialTimeout != DefaultDialTimeout {
		t.Errorf("dialTimeout = %v", p.dialTimeout)
	}
}

func TestRunOpenAndClosedPorts(t *testing.T) {
	ln, openPort := listen(t)
	defer ln.Close()
	closedPort := freePort(t)

	built, err := New(map[string]any{
		"ports":        []int{openPort, closedPort},
		"dial-timeout": "500ms",
	})
	if err != nil {
		t.Fatal(err)
	}

	res := built.Run(context.Background(), localhostTarget())
	if res.Failed() {
		t.Fatalf("closed ports must not fail the target: %+v", res)
	}

	ports := res.Payload["ports"].(map[string]string)
	if ports[strconv.Itoa(openPort)] != StateOpen {
		t.Errorf("port %d = %q, want open", openPort, ports[strconv.Itoa(openPort)])
	}
	if ports[strconv.Itoa(closedPort)] != StateClosed {
		t.Errorf("port %d = %q, want closed", closedPort, ports[strconv.Itoa(closedPort)])
	}
	if res.Payload["open_count"] != 1 {
		t.Errorf("open_count = %v", res.Payload["open_count"])
	}
	if res.Payload["reachable_via"] != "tcp" {
		t.Errorf("reachable_via = %v", res.Payload["reachable_via"])
	}
	if res.Message != "1/2 ports open" {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestRunAllClosedStillSucceeds(t *testing.T) {
	built, err := New(map[string]any{
		"ports":        []int{freePort(t), freePort(t)},
		"dial-timeout": "500ms",
	})
	if err != nil {
		t.Fatal(err)
	}

	res := built.Run(context.Background(), localhostTarget())
	if res.Failed() {
		t.Fatalf("refused ports prove the host is up: %+v", res)
	}
	if res.Payload["open_count"] != 0 {
		t.Errorf("open_count = %v", res.Payload["open_count"])
	}
}

func TestRunUnreachableHost(t *testing.T) {
	// 192.0.2.0/24 is TEST-NET-1, guaranteed to drop packets.
	built, err := New(map[string]any{
		"ports":        []int{80},
		"dial-timeout": "200ms",
	})
	if err != nil {
		t.Fatal(err)
	}

	tgt := &target.Target{Name: "192.0.2.1", Host: "192.0.2.1"}
	res := built.Run(context.Background(), tgt)
	if !res.Failed() || res.ErrKind != probe.ErrConnection {
		t.Errorf("res = %+v, want connection failure", res)
	}
}

func TestRunExpiredContext(t *testing.T) {
	built, err := New(map[string]any{
		"ports":        []int{80},
		"dial-timeout": "2s",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	tgt := &target.Target{Name: "192.0.2.1", Host: "192.0.2.1"}
	res := built.Run(ctx, tgt)
	if res.Outcome != probe.OutcomeTimeout {
		t.Errorf("res = %+v, want timeout", res)
	}
}

func TestDescribe(t *testing.T) {
	built, _ := New(map[string]any{"ports": []int{22, 443}})
	if got := built.Describe(); got != "port scan of 2 port(s), 2s dial timeout" {
		t.Errorf("Describe() = %q", got)
	}
}
