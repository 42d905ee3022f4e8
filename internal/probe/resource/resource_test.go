package resource

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

// fakeConn replays canned results keyed by command substring.
type fakeConn struct {
	replies map[string]*connector.Result
	failCmd string
}

func (f *fakeConn) Connect(ctx context.Context) error { return nil }
func (f *fakeConn) Close() error                      { return nil }
func (f *fakeConn) String() string                    { return "fake://test" }

func (f *fakeConn) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	return nil
}

func (f *fakeConn) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	if f.failCmd != "" && strings.Contains(cmd, f.failCmd) {
		return &connector.Result{ExitCode: 127, Stderr: "command not found"}, nil
	}
	for key, result := range f.replies {
		if strings.Contains(cmd, key) {
			return result, nil
		}
	}
	return nil, fmt.Errorf("unexpected command: %s", cmd)
}

func remoteTarget() *target.Target {
	return &target.Target{Name: "db-01", Host: "db-01", Port: 22}
}

func sampleConn() *fakeConn {
	return &fakeConn{replies: map[string]*connector.Result{
		"/proc/stat":   {Stdout: "42.5\n"},
		"free":         {Stdout: "61.2\n"},
		"df":           {Stdout: "88\n"},
		"/proc/uptime": {Stdout: "3600.5\n"},
	}}
}

func newProbe(t *testing.T, params map[string]any, conn connector.Connector) *Probe {
	t.Helper()
	built, err := New(params)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p := built.(*Probe)
	p.dial = func(ctx context.Context, tgt *target.Target) (connector.Connector, error) {
		return conn, nil
	}
	return p
}

func TestNewValidatesThresholds(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"defaults", nil, false},
		{"custom", map[string]any{"threshold-cpu": 50}, false},
		{"zero", map[string]any{"threshold-mem": 0}, true},
		{"over 100", map[string]any{"threshold-disk": 101}, true},
		{"bad interval", map[string]any{"interval": "soon"}, true},
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

func TestClassify(t *testing.T) {
	tests := []struct {
		value     float64
		threshold float64
		want      string
	}{
		{10, 80, LevelOK},
		{55.9, 80, LevelOK},
		{56.1, 80, LevelWarn},
		{80, 80, LevelWarn}, // at the threshold is still warn
		{80.1, 80, LevelAlert},
		{99, 90, LevelAlert},
	}
	for _, tt := range tests {
		if got := classify(tt.value, tt.threshold); got != tt.want {
			t.Errorf("classify(%v, %v) = %q, want %q", tt.value, tt.threshold, got, tt.want)
		}
	}
}

func TestRunRemote(t *testing.T) {
	p := newProbe(t, nil, sampleConn())
	res := p.Run(context.Background(), remoteTarget())

	if res.Failed() {
		t.Fatalf("Run failed: %+v", res)
	}
	if res.Payload["cpu_percent"] != 42.5 {
		t.Errorf("cpu_percent = %v", res.Payload["cpu_percent"])
	}
	if res.Payload["cpu_level"] != LevelOK {
		t.Errorf("cpu_level = %v", res.Payload["cpu_level"])
	}
	if res.Payload["mem_level"] != LevelWarn {
		t.Errorf("mem_level = %v, want warn for 61.2%% against 85%%", res.Payload["mem_level"])
	}
	if res.Payload["disk_level"] != LevelWarn {
		t.Errorf("disk_level = %v, want warn for 88%% against 90%%", res.Payload["disk_level"])
	}
	if res.Payload["uptime_seconds"] != 3600.5 {
		t.Errorf("uptime_seconds = %v", res.Payload["uptime_seconds"])
	}
}

func TestRunRemoteAlerts(t *testing.T) {
	conn := &fakeConn{replies: map[string]*connector.Result{
		"/proc/stat":   {Stdout: "93.4"},
		"free":         {Stdout: "99.0"},
		"df":           {Stdout: "95"},
		"/proc/uptime": {Stdout: "10"},
	}}
	p := newProbe(t, nil, conn)
	res := p.Run(context.Background(), remoteTarget())

	if res.Failed() {
		t.Fatalf("threshold breaches must not fail the probe: %+v", res)
	}
	alerts, ok := res.Payload["alerts"].([]string)
	if !ok || len(alerts) != 3 {
		t.Fatalf("alerts = %v, want 3", res.Payload["alerts"])
	}
	if !strings.Contains(res.Message, "3 resource alert") {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestRunRemoteCommandFails(t *testing.T) {
	conn := sampleConn()
	conn.failCmd = "free"
	p := newProbe(t, nil, conn)
	res := p.Run(context.Background(), remoteTarget())

	if !res.Failed() || res.ErrKind != probe.ErrProbe {
		t.Errorf("res = %+v, want probe failure", res)
	}
	if !strings.Contains(res.Message, "memory") {
		t.Errorf("Message = %q, want metric name", res.Message)
	}
}

func TestRunRemoteConnectFails(t *testing.T) {
	built, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	p := built.(*Probe)
	p.dial = func(ctx context.Context, tgt *target.Target) (connector.Connector, error) {
		return nil, fmt.Errorf("connection refused")
	}

	res := p.Run(context.Background(), remoteTarget())
	if res.ErrKind != probe.ErrConnection {
		t.Errorf("ErrKind = %v, want connection", res.ErrKind)
	}
}

func TestRunRemoteGarbageOutput(t *testing.T) {
	conn := sampleConn()
	conn.replies["df"] = &connector.Result{Stdout: "not-a-number"}
	p := newProbe(t, nil, conn)
	res := p.Run(context.Background(), remoteTarget())

	if !res.Failed() || res.ErrKind != probe.ErrProbe {
		t.Errorf("res = %+v, want probe failure", res)
	}
}

func TestRunLocal(t *testing.T) {
	built, err := New(map[string]any{"interval": "0s"})
	if err != nil {
		t.Fatal(err)
	}
	lt := target.LocalTarget()
	res := built.Run(context.Background(), &lt)
	if res.Failed() {
		t.Skipf("local sampling unavailable: %s", res.Message)
	}
	if _, ok := res.Payload["cpu_percent"]; !ok {
		t.Error("payload missing cpu_percent")
	}
	if res.Payload["disk_path"] != "/" {
		t.Errorf("disk_path = %v", res.Payload["disk_path"])
	}
}

func TestDescribe(t *testing.T) {
	p, _ := New(map[string]any{"threshold-cpu": 70})
	if got := p.Describe(); !strings.Contains(got, "cpu>70%") {
		t.Errorf("Describe() = %q", got)
	}
}
