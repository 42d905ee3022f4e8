package pkgaudit

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

type fakeConn struct {
	replies map[string]*connector.Result
}

func (f *fakeConn) Connect(ctx context.Context) error { return nil }
func (f *fakeConn) Close() error                      { return nil }
func (f *fakeConn) String() string                    { return "fake://test" }

func (f *fakeConn) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	return nil
}

func (f *fakeConn) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	for key, result := range f.replies {
		if strings.Contains(cmd, key) {
			return result, nil
		}
	}
	return nil, fmt.Errorf("unexpected command: %s", cmd)
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

func sshTarget() *target.Target {
	return &target.Target{Name: "web-01", Host: "web-01", Transport: target.TransportSSH}
}

const aptOutput = `Listing... Done
nginx/jammy-updates 1.18.0-6ubuntu14.4 amd64 [upgradable from: 1.18.0-6ubuntu14.3]
openssl/jammy-security 3.0.2-0ubuntu1.15 amd64 [upgradable from: 3.0.2-0ubuntu1.14]
`

func TestNewRejectsUnknownManager(t *testing.T) {
	_, err := New(map[string]any{"manager": "pacman"})
	if err == nil || !strings.Contains(err.Error(), "manager") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunAutoDetectsApt(t *testing.T) {
	conn := &fakeConn{replies: map[string]*connector.Result{
		"command -v apt-get": {ExitCode: 0},
		"apt list":           {Stdout: aptOutput},
	}}
	p := newProbe(t, map[string]any{}, conn)

	res := p.Run(context.Background(), sshTarget())
	if res.Failed() {
		t.Fatalf("Run failed: %s", res.Message)
	}
	if res.Payload["manager"] != ManagerApt {
		t.Errorf("manager = %v", res.Payload["manager"])
	}
	if res.Payload["count"] != 2 || res.Payload["security_count"] != 1 {
		t.Errorf("count = %v, security_count = %v", res.Payload["count"], res.Payload["security_count"])
	}
	if res.Message != "2 package(s) outdated, 1 security" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestRunNoManagerFound(t *testing.T) {
	conn := &fakeConn{replies: map[string]*connector.Result{
		"command -v": {ExitCode: 127},
	}}
	p := newProbe(t, map[string]any{}, conn)

	res := p.Run(context.Background(), sshTarget())
	if !res.Failed() || res.ErrKind != probe.ErrProbe {
		t.Fatalf("expected probe failure, got %+v", res)
	}
	if !strings.Contains(res.Message, "no supported package manager") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestRunDetectionOrderPrefersApt(t *testing.T) {
	conn := &fakeConn{replies: map[string]*connector.Result{
		"command -v apt-get": {ExitCode: 0},
		"command -v dnf":     {ExitCode: 0},
		"apt list":           {Stdout: "Listing... Done\n"},
	}}
	p := newProbe(t, map[string]any{}, conn)

	res := p.Run(context.Background(), sshTarget())
	if res.Failed() {
		t.Fatalf("Run failed: %s", res.Message)
	}
	if res.Payload["manager"] != ManagerApt {
		t.Errorf("manager = %v", res.Payload["manager"])
	}
	if res.Message != "all packages up to date" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestRunExplicitYumWithUpdates(t *testing.T) {
	out := "kernel.x86_64  5.14.0-362.24.1.el9_3  baseos\n" +
		"openssl-libs.x86_64  1:3.0.7-25.el9_3  rhel-9-security\n"
	conn := &fakeConn{replies: map[string]*connector.Result{
		"yum -q check-update": {Stdout: out, ExitCode: 100},
	}}
	p := newProbe(t, map[string]any{"manager": "yum"}, conn)

	res := p.Run(context.Background(), sshTarget())
	if res.Failed() {
		t.Fatalf("Run failed: %s", res.Message)
	}
	if res.Payload["count"] != 2 || res.Payload["security_count"] != 1 {
		t.Errorf("count = %v, security_count = %v", res.Payload["count"], res.Payload["security_count"])
	}
}

func TestRunExplicitYumUpToDate(t *testing.T) {
	conn := &fakeConn{replies: map[string]*connector.Result{
		"yum -q check-update": {ExitCode: 0},
	}}
	p := newProbe(t, map[string]any{"manager": "yum"}, conn)

	res := p.Run(context.Background(), sshTarget())
	if res.Failed() {
		t.Fatalf("Run failed: %s", res.Message)
	}
	if res.Payload["count"] != 0 {
		t.Errorf("count = %v", res.Payload["count"])
	}
}

func TestRunSecurityOnlyFiltersPayload(t *testing.T) {
	conn := &fakeConn{replies: map[string]*connector.Result{
		"apt list": {Stdout: aptOutput},
	}}
	p := newProbe(t, map[string]any{"manager": "apt", "security-only": true}, conn)

	res := p.Run(context.Background(), sshTarget())
	if res.Failed() {
		t.Fatalf("Run failed: %s", res.Message)
	}
	pkgs := res.Payload["outdated"].([]map[string]string)
	if len(pkgs) != 1 || pkgs[0]["name"] != "openssl" {
		t.Errorf("outdated = %v", pkgs)
	}
	if res.Payload["count"] != 1 || res.Payload["security_count"] != 1 {
		t.Errorf("count = %v, security_count = %v", res.Payload["count"], res.Payload["security_count"])
	}
}

func TestRunCommandFailure(t *testing.T) {
	conn := &fakeConn{replies: map[string]*connector.Result{
		"apt list": {ExitCode: 100, Stderr: "lock held"},
	}}
	p := newProbe(t, map[string]any{"manager": "apt"}, conn)

	res := p.Run(context.Background(), sshTarget())
	if !res.Failed() || res.ErrKind != probe.ErrProbe {
		t.Fatalf("expected probe failure, got %+v", res)
	}
	if !strings.Contains(res.Message, "lock held") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestRunDialFailure(t *testing.T) {
	built, err := New(map[string]any{"manager": "apt"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p := built.(*Probe)
	p.dial = func(ctx context.Context, tgt *target.Target) (connector.Connector, error) {
		return nil, fmt.Errorf("connection refused")
	}

	res := p.Run(context.Background(), sshTarget())
	if !res.Failed() || res.ErrKind != probe.ErrConnection {
		t.Fatalf("expected connection failure, got %+v", res)
	}
}

func TestParseAptUpgradable(t *testing.T) {
	pkgs := parseAptUpgradable(aptOutput)
	if len(pkgs) != 2 {
		t.Fatalf("pkgs = %v", pkgs)
	}
	want := map[string]string{
		"name":      "nginx",
		"current":   "1.18.0-6ubuntu14.3",
		"candidate": "1.18.0-6ubuntu14.4",
		"security":  "false",
	}
	for k, v := range want {
		if pkgs[0][k] != v {
			t.Errorf("pkgs[0][%q] = %q, want %q", k, pkgs[0][k], v)
		}
	}
	if pkgs[1]["name"] != "openssl" || pkgs[1]["security"] != "true" {
		t.Errorf("pkgs[1] = %v", pkgs[1])
	}
}

func TestParseCheckUpdateWrappedLines(t *testing.T) {
	out := "kernel.x86_64                    5.14.0-362.24.1.el9_3   baseos\n" +
		"really-long-package-name.noarch\n" +
		"                                 2.0-1.el9               appstream\n" +
		"Obsoleting Packages\n" +
		"old-pkg.noarch                   1.0                     appstream\n"

	pkgs := parseCheckUpdate(out)
	if len(pkgs) != 2 {
		t.Fatalf("pkgs = %v", pkgs)
	}
	if pkgs[0]["name"] != "kernel" || pkgs[0]["candidate"] != "5.14.0-362.24.1.el9_3" {
		t.Errorf("pkgs[0] = %v", pkgs[0])
	}
	if pkgs[1]["name"] != "really-long-package-name" || pkgs[1]["candidate"] != "2.0-1.el9" {
		t.Errorf("pkgs[1] = %v", pkgs[1])
	}
}

func TestParseApkVersions(t *testing.T) {
	out := "Installed:                                Available:\n" +
		"musl-1.2.4-r2 < 1.2.4-r3\n" +
		"py3-setuptools-68.2.2-r0 < 68.2.3-r0\n"

	pkgs := parseApkVersions(out)
	if len(pkgs) != 2 {
		t.Fatalf("pkgs = %v", pkgs)
	}
	if pkgs[0]["name"] != "musl" || pkgs[0]["current"] != "1.2.4-r2" || pkgs[0]["candidate"] != "1.2.4-r3" {
		t.Errorf("pkgs[0] = %v", pkgs[0])
	}
	if pkgs[1]["name"] != "py3-setuptools" || pkgs[1]["current"] != "68.2.2-r0" {
		t.Errorf("pkgs[1] = %v", pkgs[1])
	}
}

func TestSplitApkPackage(t *testing.T) {
	cases := []struct {
		pkg, name, version string
	}{
		{"musl-1.2.4-r2", "musl", "1.2.4-r2"},
		{"py3-setuptools-68.2.2-r0", "py3-setuptools", "68.2.2-r0"},
		{"libcrypto3-3.1.4-r5", "libcrypto3", "3.1.4-r5"},
		{"noversion", "noversion", ""},
	}
	for _, tc := range cases {
		name, version := splitApkPackage(tc.pkg)
		if name != tc.name || version != tc.version {
			t.Errorf("splitApkPackage(%q) = %q, %q, want %q, %q", tc.pkg, name, version, tc.name, tc.version)
		}
	}
}

func TestParseBrewOutdated(t *testing.T) {
	out := "python@3.11 (3.11.6, 3.11.7) < 3.11.8\n" +
		"wget (1.21.3) < 1.21.4\n"

	pkgs := parseBrewOutdated(out)
	if len(pkgs) != 2 {
		t.Fatalf("pkgs = %v", pkgs)
	}
	if pkgs[0]["name"] != "python@3.11" || pkgs[0]["current"] != "3.11.7" || pkgs[0]["candidate"] != "3.11.8" {
		t.Errorf("pkgs[0] = %v", pkgs[0])
	}
	if pkgs[1]["name"] != "wget" || pkgs[1]["current"] != "1.21.3" {
		t.Errorf("pkgs[1] = %v", pkgs[1])
	}
}

func TestDescribe(t *testing.T) {
	p := newProbe(t, map[string]any{"manager": "apt", "security-only": true}, nil)
	desc := p.Describe()
	if !strings.Contains(desc, "apt") || !strings.Contains(desc, "security") {
		t.Errorf("Describe() = %q", desc)
	}
}
