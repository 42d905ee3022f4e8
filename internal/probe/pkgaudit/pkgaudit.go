// Package pkgaudit implements the package-audit probe: pending updates as
// seen by the target's own package manager, with security updates counted
// separately. The manager is autodetected per target so mixed fleets audit
// in one run.
package pkgaudit

import (
	"context"
	"fmt"
	"strings"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

func init() {
	probe.Register(probe.KindPackageAudit, New)
}

// Supported package managers, in detection order.
const (
	ManagerApt  = "apt"
	ManagerDnf  = "dnf"
	ManagerYum  = "yum"
	ManagerApk  = "apk"
	ManagerBrew = "brew"
)

// detectOrder lists managers with the binary that proves their presence.
// apt outranks dnf so hosts carrying both (rare, but seen on converted
// systems) audit with the native one.
var detectOrder = []struct {
	name   string
	binary string
}{
	{ManagerApt, "apt-get"},
	{ManagerDnf, "dnf"},
	{ManagerYum, "yum"},
	{ManagerApk, "apk"},
	{ManagerBrew, "brew"},
}

type dialFunc func(ctx context.Context, t *target.Target) (connector.Connector, error)

// Probe audits pending package updates.
type Probe struct {
	manager      string
	securityOnly bool

	dial dialFunc
}

// New builds the probe. Parameters: manager (auto, apt, dnf, yum, apk, or
// brew), security-only (report only security updates).
func New(params map[string]any) (probe.Probe, error) {
	p := &Probe{
		manager:      probe.GetString(params, "manager", "auto"),
		securityOnly: probe.GetBool(params, "security-only", false),
		dial:         probe.Connect,
	}
	switch p.manager {
	case "auto", ManagerApt, ManagerDnf, ManagerYum, ManagerApk, ManagerBrew:
	default:
		return nil, fmt.Errorf("parameter 'manager' must be auto, apt, dnf, yum, apk, or brew, got %q", p.manager)
	}
	return p, nil
}

func (p *Probe) Kind() string { return probe.KindPackageAudit }

func (p *Probe) Describe() string {
	desc := "pending package updates"
	if p.manager != "auto" {
		desc += " via " + p.manager
	}
	if p.securityOnly {
		desc += " (security only)"
	}
	return desc
}

// Run audits one target. Local targets audit the machine dcadm runs on
// through the local connector; no package manager at all is a probe failure.
func (p *Probe) Run(ctx context.Context, t *target.Target) *probe.Result {
	conn, err := p.dial(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return probe.TimedOut(t, 0)
		}
		return probe.Failure(t, probe.ErrConnection, err)
	}
	defer conn.Close()

	manager := p.manager
	if manager == "auto" {
		manager, err = detectManager(ctx, conn)
		if err != nil {
			return p.failure(ctx, t, err)
		}
	}

	var pkgs []map[string]string
	switch manager {
	case ManagerApt:
		pkgs, err = auditApt(ctx, conn)
	case ManagerDnf, ManagerYum:
		pkgs, err = auditCheckUpdate(ctx, conn, manager)
	case ManagerApk:
		pkgs, err = auditApk(ctx, conn)
	case ManagerBrew:
		pkgs, err = auditBrew(ctx, conn)
	}
	if err != nil {
		return p.failure(ctx, t, err)
	}

	securityCount := 0
	for _, pkg := range pkgs {
		if pkg["security"] == "true" {
			securityCount++
		}
	}
	if p.securityOnly {
		filtered := make([]map[string]string, 0, securityCount)
		for _, pkg := range pkgs {
			if pkg["security"] == "true" {
				filtered = append(filtered, pkg)
			}
		}
		pkgs = filtered
	}

	payload := map[string]any{
		"manager":        manager,
		"outdated":       pkgs,
		"count":          len(pkgs),
		"security_count": securityCount,
	}
	return probe.Success(t, summary(len(pkgs), securityCount), payload)
}

func (p *Probe) failure(ctx context.Context, t *target.Target, err error) *probe.Result {
	if ctx.Err() != nil {
		return probe.TimedOut(t, 0)
	}
	return probe.Failure(t, probe.ErrProbe, err)
}

func summary(count, security int) string {
	if count == 0 {
		return "all packages up to date"
	}
	return fmt.Sprintf("%d package(s) outdated, %d security", count, security)
}

// detectManager finds the first supported package manager on the target.
func detectManager(ctx context.Context, conn connector.Connector) (string, error) {
	for _, m := range detectOrder {
		result, err := conn.Execute(ctx, "command -v "+m.binary)
		if err != nil {
			return "", err
		}
		if result.ExitCode == 0 {
			return m.name, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found (tried apt, dnf, yum, apk, brew)")
}

// auditApt lists upgradable packages on Debian and Ubuntu systems.
func auditApt(ctx context.Context, conn connector.Connector) ([]map[string]string, error) {
	result, err := conn.Execute(ctx, "apt list --upgradable 2>/dev/null")
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("apt list exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return parseAptUpgradable(result.Stdout), nil
}

// parseAptUpgradable reads lines shaped like
//
//	nginx/jammy-updates 1.18.0-6ubuntu14.4 amd64 [upgradable from: 1.18.0-6ubuntu14.3]
//
// Packages served from a *-security suite count as security updates.
func parseAptUpgradable(out string) []map[string]string {
	pkgs := []map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Listing") {
			continue
		}

		nameSuite, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		name, suite, _ := strings.Cut(nameSuite, "/")
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}

		current := ""
		if i := strings.Index(line, "upgradable from: "); i >= 0 {
			current = strings.TrimSuffix(line[i+len("upgradable from: "):], "]")
		}

		pkgs = append(pkgs, map[string]string{
			"name":      name,
			"current":   current,
			"candidate": fields[0],
			"security":  boolString(strings.Contains(suite, "-security")),
		})
	}
	return pkgs
}

// auditCheckUpdate lists pending updates on dnf and yum systems. Exit code
// 100 means updates are available, 0 means none.
func auditCheckUpdate(ctx context.Context, conn connector.Connector, manager string) ([]map[string]string, error) {
	result, err := conn.Execute(ctx, manager+" -q check-update 2>/dev/null")
	if err != nil {
		return nil, err
	}
	switch result.ExitCode {
	case 0:
		return []map[string]string{}, nil
	case 100:
		return parseCheckUpdate(result.Stdout), nil
	}
	return nil, fmt.Errorf("%s check-update exited %d: %s",
		manager, result.ExitCode, strings.TrimSpace(result.Stderr))
}

// parseCheckUpdate reads "name.arch  candidate  repo" rows. Long package
// names wrap onto two lines, with version and repo indented on the second.
// check-update does not report the installed version.
func parseCheckUpdate(out string) []map[string]string {
	pkgs := []map[string]string{}
	pending := ""
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "Obsoleting") {
			break
		}

		fields := strings.Fields(line)
		switch {
		case len(fields) == 1:
			pending = fields[0]
		case len(fields) == 2 && pending != "":
			pkgs = append(pkgs, checkUpdateEntry(pending, fields[0], fields[1]))
			pending = ""
		case len(fields) >= 3:
			pkgs = append(pkgs, checkUpdateEntry(fields[0], fields[1], fields[2]))
		}
	}
	return pkgs
}

func checkUpdateEntry(nameArch, candidate, repo string) map[string]string {
	name := nameArch
	if i := strings.LastIndex(nameArch, "."); i > 0 {
		name = nameArch[:i]
	}
	return map[string]string{
		"name":      name,
		"current":   "",
		"candidate": candidate,
		"security":  boolString(strings.Contains(repo, "security")),
	}
}

// auditApk lists upgradable packages on Alpine systems.
func auditApk(ctx context.Context, conn connector.Connector) ([]map[string]string, error) {
	result, err := conn.Execute(ctx, "apk version -l '<' 2>/dev/null")
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("apk version exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return parseApkVersions(result.Stdout), nil
}

// parseApkVersions reads "name-1.2.3-r0 < 1.2.4-r0" rows. apk carries no
// security classification in this listing.
func parseApkVersions(out string) []map[string]string {
	pkgs := []map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Installed:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "<" {
			continue
		}

		name, current := splitApkPackage(fields[0])
		pkgs = append(pkgs, map[string]string{
			"name":      name,
			"current":   current,
			"candidate": fields[2],
			"security":  "false",
		})
	}
	return pkgs
}

// splitApkPackage divides "openssl-3.1.4-r5" into name and version. The
// version starts at the first dash-delimited segment that begins with a
// digit.
func splitApkPackage(pkg string) (string, string) {
	segments := strings.Split(pkg, "-")
	for i := 1; i < len(segments); i++ {
		if segments[i] != "" && segments[i][0] >= '0' && segments[i][0] <= '9' {
			return strings.Join(segments[:i], "-"), strings.Join(segments[i:], "-")
		}
	}
	return pkg, ""
}

// auditBrew lists outdated formulae on macOS hosts.
func auditBrew(ctx context.Context, conn connector.Connector) ([]map[string]string, error) {
	result, err := conn.Execute(ctx, "brew outdated --formula --verbose")
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("brew outdated exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return parseBrewOutdated(result.Stdout), nil
}

// parseBrewOutdated reads "name (1.0.1, 1.0.2) < 1.1" rows; the newest
// installed version is the last one in the parentheses.
func parseBrewOutdated(out string) []map[string]string {
	pkgs := []map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, rest, ok := strings.Cut(line, " (")
		if !ok {
			continue
		}
		versions, candidate, ok := strings.Cut(rest, ") < ")
		if !ok {
			continue
		}
		installed := strings.Split(versions, ",")
		current := strings.TrimSpace(installed[len(installed)-1])

		pkgs = append(pkgs, map[string]string{
			"name":      name,
			"current":   current,
			"candidate": strings.TrimSpace(candidate),
			"security":  "false",
		})
	}
	return pkgs
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Ensure Probe implements the probe.Probe interface.
var _ probe.Probe = (*Probe)(nil)
