package target

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// MaxTargets caps how many endpoints one invocation may fan out over.
// Expressions that expand past the cap fail resolution instead of silently
// truncating.
const MaxTargets = 1024

// ResolutionError reports a host expression that could not be turned into
// targets. The CLI maps it to a usage failure because no probe has run yet.
type ResolutionError struct {
	Expr   string
	Reason string
}

func (e *ResolutionError) Error() string {
	if e.Expr == "" {
		return "cannot resolve targets: " + e.Reason
	}
	return fmt.Sprintf("cannot resolve %q: %s", e.Expr, e.Reason)
}

// Options carries the shared connection settings applied to every target
// produced from command-line expressions. Inventory entries may override
// them per host.
type Options struct {
	User       string
	Password   string
	KeyPath    string
	Passphrase string
	Port       int
	Timeout    time.Duration
}

func (o Options) credential() Credential {
	return Credential{
		User:       o.User,
		Password:   o.Password,
		KeyPath:    o.KeyPath,
		Passphrase: o.Passphrase,
	}
}

// Resolve expands raw host expressions into an ordered, deduplicated target
// list. Supported forms:
//
//	local | localhost          in-process execution
//	[user@]host[:port]         SSH
//	10.0.0.0/28                CIDR expansion (network/broadcast skipped)
//	10.0.0.5-10.0.0.9          inclusive address range
//	docker:[user@]container    command execution inside a container
//
// Order follows the input; duplicates keep their first occurrence and log a
// warning. An empty or malformed expression fails the whole resolution.
func Resolve(raw []string, opts Options) ([]Target, error) {
	var all []Target
	for _, expr := range raw {
		expanded, err := resolveExpr(expr, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, expanded...)
	}
	return dedupe(all)
}

// dedupe drops repeated target names, keeping first occurrences in order,
// and enforces the fan-out cap on the combined list.
func dedupe(in []Target) ([]Target, error) {
	out := make([]Target, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		if _, dup := seen[t.Name]; dup {
			log.WithField("target", t.Name).Warn("duplicate target ignored")
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, t)
		if len(out) > MaxTargets {
			return nil, &ResolutionError{
				Reason: fmt.Sprintf("run exceeds the %d target limit", MaxTargets),
			}
		}
	}
	return out, nil
}

func resolveExpr(expr string, opts Options) ([]Target, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, &ResolutionError{Expr: expr, Reason: "empty host expression"}
	}

	if name, ok := cutDockerScheme(trimmed); ok {
		return dockerTarget(expr, name, opts)
	}

	user := opts.User
	rest := trimmed
	explicitUser := false
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		user, rest = rest[:i], rest[i+1:]
		explicitUser = true
		if user == "" || rest == "" {
			return nil, &ResolutionError{Expr: expr, Reason: "malformed user@host"}
		}
	}

	if isLocalAlias(rest) && !explicitUser {
		t := LocalTarget()
		t.Timeout = opts.Timeout
		return []Target{t}, nil
	}

	if strings.Contains(rest, "/") {
		return expandCIDR(expr, rest, user, opts)
	}
	if lo, hi, ok := splitRange(rest); ok {
		return expandRange(expr, lo, hi, user, opts)
	}

	host, port, err := splitHostPort(expr, rest)
	if err != nil {
		return nil, err
	}
	return []Target{sshTarget(host, port, user, opts)}, nil
}

// isLocalAlias matches the bare tokens that mean "this machine". Loopback
// addresses stay SSH targets so forwarded ports keep working.
func isLocalAlias(s string) bool {
	switch strings.ToLower(s) {
	case "local", "localhost":
		return true
	}
	return false
}

func cutDockerScheme(s string) (string, bool) {
	if name, ok := strings.CutPrefix(s, "docker://"); ok {
		return name, true
	}
	return strings.CutPrefix(s, "docker:")
}

func dockerTarget(expr, name string, opts Options) ([]Target, error) {
	user := ""
	if i := strings.LastIndex(name, "@"); i >= 0 {
		user, name = name[:i], name[i+1:]
	}
	if name == "" {
		return nil, &ResolutionError{Expr: expr, Reason: "missing container name"}
	}

	cred := opts.credential()
	if user != "" {
		cred.User = user
	}
	return []Target{{
		Name:       "docker:" + name,
		Host:       name,
		Transport:  TransportDocker,
		Credential: cred,
		Timeout:    opts.Timeout,
	}}, nil
}

func sshTarget(host string, port int, user string, opts Options) Target {
	host = strings.ToLower(host)

	name := host
	if port == 0 {
		port = opts.Port
	}
	if port == 0 {
		port = DefaultSSHPort
	}
	if port != DefaultSSHPort {
		name = net.JoinHostPort(host, strconv.Itoa(port))
	}

	cred := opts.credential()
	cred.User = user

	return Target{
		Name:       name,
		Host:       host,
		Port:       port,
		Transport:  TransportSSH,
		Credential: cred,
		Timeout:    opts.Timeout,
	}
}

// splitHostPort accepts host, host:port, and [v6]:port. A bare IPv6 literal
// passes through unchanged.
func splitHostPort(expr, s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		if _, parseErr := netip.ParseAddr(s); parseErr == nil {
			return s, 0, nil
		}
		if strings.ContainsAny(s, ": ") {
			return "", 0, &ResolutionError{Expr: expr, Reason: "malformed host:port"}
		}
		return s, 0, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, &ResolutionError{Expr: expr, Reason: fmt.Sprintf("invalid port %q", portStr)}
	}
	return host, port, nil
}

// splitRange recognizes a.b.c.d-w.x.y.z expressions. Anything that does not
// parse as two addresses is left for hostname handling, so names like
// "web-01" pass through.
func splitRange(s string) (string, string, bool) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return "", "", false
	}
	if _, err := netip.ParseAddr(lo); err != nil {
		return "", "", false
	}
	if _, err := netip.ParseAddr(hi); err != nil {
		return "", "", false
	}
	return lo, hi, true
}

func expandCIDR(expr, cidr, user string, opts Options) ([]Target, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, &ResolutionError{Expr: expr, Reason: "invalid CIDR block"}
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > 10 {
		return nil, &ResolutionError{
			Expr:   expr,
			Reason: fmt.Sprintf("block expands past the %d target limit", MaxTargets),
		}
	}

	addrs := make([]netip.Addr, 0, 1<<hostBits)
	for a := prefix.Addr(); prefix.Contains(a); a = a.Next() {
		addrs = append(addrs, a)
	}
	// Skip network and broadcast addresses for conventional IPv4 blocks.
	// /31 and /32 have no such addresses (RFC 3021).
	if prefix.Addr().Is4() && prefix.Bits() < 31 && len(addrs) > 2 {
		addrs = addrs[1 : len(addrs)-1]
	}

	targets := make([]Target, 0, len(addrs))
	for _, a := range addrs {
		targets = append(targets, sshTarget(a.String(), 0, user, opts))
	}
	return targets, nil
}

func expandRange(expr, lo, hi, user string, opts Options) ([]Target, error) {
	start, _ := netip.ParseAddr(lo)
	end, _ := netip.ParseAddr(hi)

	if start.Is4() != end.Is4() {
		return nil, &ResolutionError{Expr: expr, Reason: "range endpoints mix address families"}
	}
	if end.Less(start) {
		return nil, &ResolutionError{Expr: expr, Reason: "range end precedes range start"}
	}

	var targets []Target
	for a := start; a.Compare(end) <= 0; a = a.Next() {
		targets = append(targets, sshTarget(a.String(), 0, user, opts))
		if len(targets) > MaxTargets {
			return nil, &ResolutionError{
				Expr:   expr,
				Reason: fmt.Sprintf("range expands past the %d target limit", MaxTargets),
			}
		}
	}
	return targets, nil
}
