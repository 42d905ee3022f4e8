package logtail

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

// fakeConn replays one canned result for any command.
type fakeConn struct {
	result *connector.Result
	err    error
	gotCmd string
}

func (f *fakeConn) Connect(ctx context.Context) error { return nil }
func (f *fakeConn) Close() error                      { return nil }
func (f *fakeConn) String() string                    { return "fake://test" }

func (f *fakeConn) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	return nil
}

func (f *fakeConn) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	f.gotCmd = cmd
	return f.result, f.err
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

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewValidatesParams(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error without path")
	}
	if _, err := New(map[string]any{"path": ""}); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := New(map[string]any{"path": "/var/log/syslog", "tail": 0}); err == nil {
		t.Error("expected error for tail 0")
	}
}

func TestTailFile(t *testing.T) {
	path := writeLog(t, "one", "two", "three", "four", "five")

	got, err := tailFile(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"three", "four", "five"}
	if len(got) != 3 || got[0] != want[0] || got[2] != want[2] {
		t.Errorf("tailFile = %v, want %v", got, want)
	}

	// Asking for more lines than exist returns everything.
	got, err = tailFile(path, 50)
	if err != nil || len(got) != 5 {
		t.Errorf("tailFile(50) = %v, %v", got, err)
	}
}

func TestTailFileEmpty(t *testing.T) {
	path := writeLog(t)
	got, err := tailFile(path, 10)
	if err != nil || len(got) != 0 {
		t.Errorf("tailFile(empty) = %v, %v", got, err)
	}
}

func TestTailFileNoTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := tailFile(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "two" || got[1] != "three" {
		t.Errorf("tailFile = %v", got)
	}
}

func TestTailFileSpansChunks(t *testing.T) {
	// Write enough that the tail sits several read chunks from the start.
	path := filepath.Join(t.TempDir(), "big.log")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20000; i++ {
		fmt.Fprintf(f, "line %05d padding padding padding\n", i)
	}
	f.Close()

	got, err := tailFile(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !strings.HasPrefix(got[2], "line 19999") {
		t.Errorf("tailFile = %v", got)
	}
}

func TestRunLocal(t *testing.T) {
	path := writeLog(t,
		"2026-02-11 service started",
		"2026-02-11 ERROR disk failing",
		"2026-02-11 request served",
		"2026-02-11 login FAILED for root",
	)

	built, err := New(map[string]any{"path": path})
	if err != nil {
		t.Fatal(err)
	}
	lt := target.LocalTarget()
	res := built.Run(context.Background(), &lt)

	if res.Failed() {
		t.Fatalf("Run failed: %s", res.Message)
	}
	lines := res.Payload["lines"].([]string)
	if len(lines) != 4 {
		t.Errorf("lines = %d, want 4", len(lines))
	}
	if res.Payload["scanned"] != 4 || res.Payload["matched"] != 4 {
		t.Errorf("payload = %+v", res.Payload)
	}
}

func TestRunLocalErrorsOnly(t *testing.T) {
	path := writeLog(t,
		"service started",
		"ERROR disk failing",
		"request served",
		"login FAILED for root",
	)

	built, err := New(map[string]any{"path": path, "errors-only": true})
	if err != nil {
		t.Fatal(err)
	}
	lt := target.LocalTarget()
	res := built.Run(context.Background(), &lt)

	lines := res.Payload["lines"].([]string)
	if len(lines) != 2 {
		t.Fatalf("lines = %v, want 2 error lines", lines)
	}
	if !strings.Contains(res.Message, "2 of 4") {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestRunLocalMatch(t *testing.T) {
	path := writeLog(t,
		"ERROR disk /dev/sda failing",
		"ERROR oom killed nginx",
		"warning only",
	)

	built, err := New(map[string]any{"path": path, "errors-only": true, "match": "nginx"})
	if err != nil {
		t.Fatal(err)
	}
	lt := target.LocalTarget()
	res := built.Run(context.Background(), &lt)

	lines := res.Payload["lines"].([]string)
	if len(lines) != 1 || !strings.Contains(lines[0], "nginx") {
		t.Errorf("lines = %v", lines)
	}
}

func TestRunLocalMissingFile(t *testing.T) {
	built, err := New(map[string]any{"path": filepath.Join(t.TempDir(), "absent.log")})
	if err != nil {
		t.Fatal(err)
	}
	lt := target.LocalTarget()
	res := built.Run(context.Background(), &lt)

	if !res.Failed() || res.ErrKind != probe.ErrProbe {
		t.Errorf("res = %+v, want probe failure", res)
	}
}

func TestRunRemote(t *testing.T) {
	conn := &fakeConn{result: &connector.Result{
		Stdout: "service started\nERROR disk failing\n",
	}}
	p := newProbe(t, map[string]any{"path": "/var/log/syslog", "tail": 50}, conn)

	tgt := &target.Target{Name: "db-01", Host: "db-01", Transport: target.TransportSSH}
	res := p.Run(context.Background(), tgt)

	if res.Failed() {
		t.Fatalf("Run failed: %s", res.Message)
	}
	if !strings.Contains(conn.gotCmd, "tail -n 50") || !strings.Contains(conn.gotCmd, "/var/log/syslog") {
		t.Errorf("remote command = %q", conn.gotCmd)
	}
	lines := res.Payload["lines"].([]string)
	if len(lines) != 2 {
		t.Errorf("lines = %v", lines)
	}
}

func TestRunRemoteTailFails(t *testing.T) {
	conn := &fakeConn{result: &connector.Result{
		ExitCode: 1,
		Stderr:   "tail: /var/log/syslog: No such file or directory",
	}}
	p := newProbe(t, map[string]any{"path": "/var/log/syslog"}, conn)

	tgt := &target.Target{Name: "db-01", Host: "db-01", Transport: target.TransportSSH}
	res := p.Run(context.Background(), tgt)

	if !res.Failed() || res.ErrKind != probe.ErrProbe {
		t.Errorf("res = %+v, want probe failure", res)
	}
	if !strings.Contains(res.Message, "No such file") {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestIsErrorLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"ERROR something broke", true},
		{"connection error: refused", true},
		{"login FAILED", true},
		{"failure to launch", true},
		{"all quiet", false},
	}
	for _, tt := range tests {
		if got := isErrorLine(tt.line); got != tt.want {
			t.Errorf("isErrorLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	p, _ := New(map[string]any{"path": "/var/log/auth.log", "errors-only": true, "match": "sshd"})
	got := p.Describe()
	for _, want := range []string{"/var/log/auth.log", "errors only", "sshd"} {
		if !strings.Contains(got, want) {
			t.Errorf("Describe() = %q, missing %q", got, want)
		}
	}
}
