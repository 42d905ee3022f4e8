// Package userop implements the user-op probe: account inventory plus
// idempotent add and remove of login users. Mutations report what actually
// changed, so re-running an operation against a converged fleet succeeds
// without touching anything.
package userop

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/connector/local"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/target"
)

func init() {
	probe.Register(probe.KindUserOp, New)
}

// Operations.
const (
	OpList   = "list"
	OpAdd    = "add"
	OpRemove = "remove"
)

// DefaultMinUID is the lowest uid treated as a regular account when
// listing. Everything below is a system account on common distributions.
const DefaultMinUID = 1000

// getent exits 2 when the key is not in the database.
const getentNotFound = 2

// validName matches the portable username rule useradd enforces.
var validName = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

type dialFunc func(ctx context.Context, t *target.Target) (connector.Connector, error)

// Probe lists, adds, or removes user accounts.
type Probe struct {
	op         string
	name       string
	minUID     int
	home       string
	shell      string
	system     bool
	removeHome bool
	sudo       bool

	dial dialFunc
}

// New builds the probe. Parameters: op (list, add, or remove), name
// (required for add and remove), min-uid (list filter), home, shell and
// system (add), remove-home (remove), sudo (escalate, needed when dcadm
// does not run as root).
func New(params map[string]any) (probe.Probe, error) {
	op, err := probe.RequireString(params, "op")
	if err != nil {
		return nil, err
	}

	p := &Probe{
		op:         op,
		name:       probe.GetString(params, "name", ""),
		minUID:     probe.GetInt(params, "min-uid", DefaultMinUID),
		home:       probe.GetString(params, "home", ""),
		shell:      probe.GetString(params, "shell", ""),
		system:     probe.GetBool(params, "system", false),
		removeHome: probe.GetBool(params, "remove-home", false),
		sudo:       probe.GetBool(params, "sudo", false),
		dial:       probe.Connect,
	}

	switch op {
	case OpList:
		if p.minUID < 0 {
			return nil, fmt.Errorf("parameter 'min-uid' must not be negative, got %d", p.minUID)
		}
	case OpAdd, OpRemove:
		if p.name == "" {
			return nil, fmt.Errorf("parameter 'name' is required for op %q", op)
		}
		if !validName.MatchString(p.name) {
			return nil, fmt.Errorf("invalid user name %q", p.name)
		}
	default:
		return nil, fmt.Errorf("parameter 'op' must be list, add, or remove, got %q", op)
	}
	return p, nil
}

func (p *Probe) Kind() string { return probe.KindUserOp }

func (p *Probe) Describe() string {
	switch p.op {
	case OpAdd:
		return fmt.Sprintf("add user %s", p.name)
	case OpRemove:
		return fmt.Sprintf("remove user %s", p.name)
	}
	return fmt.Sprintf("list users with uid >= %d", p.minUID)
}

// Run executes the operation against one target.
func (p *Probe) Run(ctx context.Context, t *target.Target) *probe.Result {
	conn, escalated, err := p.connect(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return probe.TimedOut(t, 0)
		}
		return probe.Failure(t, probe.ErrConnection, err)
	}
	defer conn.Close()

	// When the connector escalates itself the command must not.
	prefix := ""
	if p.sudo && !escalated {
		prefix = "sudo -n -- "
	}

	var res *probe.Result
	switch p.op {
	case OpAdd:
		res = p.add(ctx, t, conn, prefix)
	case OpRemove:
		res = p.remove(ctx, t, conn, prefix)
	default:
		res = p.list(ctx, t, conn)
	}
	if res.Outcome == probe.OutcomeFailure && ctx.Err() != nil {
		return probe.TimedOut(t, 0)
	}
	return res
}

// connect picks the connector. Local mutations under sudo go through the
// local connector's own escalation; everything else dials normally and gets
// the sudo prefix instead.
func (p *Probe) connect(ctx context.Context, t *target.Target) (connector.Connector, bool, error) {
	if p.sudo && t.IsLocal() {
		conn := local.New(local.WithSudo(""))
		if err := conn.Connect(ctx); err != nil {
			return nil, false, err
		}
		return conn, true, nil
	}
	conn, err := p.dial(ctx, t)
	return conn, false, err
}

// list reports accounts at or above the uid floor.
func (p *Probe) list(ctx context.Context, t *target.Target, conn connector.Connector) *probe.Result {
	result, err := conn.Execute(ctx, "getent passwd")
	if err != nil {
		return probe.Failure(t, probe.ErrProbe, err)
	}
	if result.ExitCode != 0 {
		return probe.Failuref(t, probe.ErrProbe, "getent passwd exited %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	users := []map[string]any{}
	for _, line := range strings.Split(result.Stdout, "\n") {
		entry, ok := parsePasswdLine(line)
		if !ok {
			continue
		}
		if entry.uid >= p.minUID {
			users = append(users, entry.row())
		}
	}

	payload := map[string]any{
		"users":   users,
		"count":   len(users),
		"min_uid": p.minUID,
	}
	return probe.Success(t, fmt.Sprintf("%d user(s) with uid >= %d", len(users), p.minUID), payload)
}

// add creates the account unless it already exists.
func (p *Probe) add(ctx context.Context, t *target.Target, conn connector.Connector, prefix string) *probe.Result {
	entry, exists, res := p.lookup(ctx, t, conn)
	if res != nil {
		return res
	}
	if exists {
		payload := entry.row()
		payload["created"] = false
		return probe.Success(t, fmt.Sprintf("user %s already exists", p.name), payload)
	}

	result, err := conn.Execute(ctx, prefix+p.useraddCommand())
	if err != nil {
		return probe.Failure(t, probe.ErrProbe, err)
	}
	if result.ExitCode != 0 {
		return probe.Failuref(t, probe.ErrProbe, "useradd exited %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	// Read the account back so the payload reflects what the system
	// actually assigned, uid included.
	entry, exists, res = p.lookup(ctx, t, conn)
	if res != nil {
		return res
	}
	if !exists {
		return probe.Failuref(t, probe.ErrProbe, "useradd reported success but user %s is missing", p.name)
	}

	payload := entry.row()
	payload["created"] = true
	return probe.Success(t, fmt.Sprintf("user %s created", p.name), payload)
}

func (p *Probe) useraddCommand() string {
	args := []string{"useradd"}
	if p.system {
		args = append(args, "-r")
	} else {
		args = append(args, "-m")
	}
	if p.home != "" {
		args = append(args, "-d", shellQuote(p.home))
	}
	if p.shell != "" {
		args = append(args, "-s", shellQuote(p.shell))
	}
	args = append(args, p.name)
	return strings.Join(args, " ")
}

// remove deletes the account if present.
func (p *Probe) remove(ctx context.Context, t *target.Target, conn connector.Connector, prefix string) *probe.Result {
	_, exists, res := p.lookup(ctx, t, conn)
	if res != nil {
		return res
	}
	if !exists {
		payload := map[string]any{"name": p.name, "removed": false}
		return probe.Success(t, fmt.Sprintf("user %s not present", p.name), payload)
	}

	cmd := "userdel"
	if p.removeHome {
		cmd += " -r"
	}
	result, err := conn.Execute(ctx, prefix+cmd+" "+p.name)
	if err != nil {
		return probe.Failure(t, probe.ErrProbe, err)
	}
	if result.ExitCode != 0 {
		return probe.Failuref(t, probe.ErrProbe, "userdel exited %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	payload := map[string]any{"name": p.name, "removed": true, "home_removed": p.removeHome}
	return probe.Success(t, fmt.Sprintf("user %s removed", p.name), payload)
}

// lookup fetches the passwd entry for p.name. A non-nil Result short
// circuits the caller with a failure.
func (p *Probe) lookup(ctx context.Context, t *target.Target, conn connector.Connector) (passwdEntry, bool, *probe.Result) {
	result, err := conn.Execute(ctx, "getent passwd "+p.name)
	if err != nil {
		return passwdEntry{}, false, probe.Failure(t, probe.ErrProbe, err)
	}
	switch result.ExitCode {
	case 0:
		entry, ok := parsePasswdLine(strings.TrimSpace(result.Stdout))
		if !ok {
			return passwdEntry{}, false, probe.Failuref(t, probe.ErrProbe,
				"unparseable passwd entry for %s: %q", p.name, strings.TrimSpace(result.Stdout))
		}
		return entry, true, nil
	case getentNotFound:
		return passwdEntry{}, false, nil
	}
	return passwdEntry{}, false, probe.Failuref(t, probe.ErrProbe, "getent passwd %s exited %d: %s",
		p.name, result.ExitCode, strings.TrimSpace(result.Stderr))
}

// passwdEntry is one parsed line of passwd(5) output.
type passwdEntry struct {
	name  string
	uid   int
	gid   int
	home  string
	shell string
}

func (e passwdEntry) row() map[string]any {
	return map[string]any{
		"name":  e.name,
		"uid":   e.uid,
		"gid":   e.gid,
		"home":  e.home,
		"shell": e.shell,
	}
}

// parsePasswdLine splits "name:x:uid:gid:gecos:home:shell".
func parsePasswdLine(line string) (passwdEntry, bool) {
	fields := strings.Split(line, ":")
	if len(fields) != 7 {
		return passwdEntry{}, false
	}
	uid, err := strconv.Atoi(fields[2])
	if err != nil {
		return passwdEntry{}, false
	}
	gid, err := strconv.Atoi(fields[3])
	if err != nil {
		return passwdEntry{}, false
	}
	return passwdEntry{
		name:  fields[0],
		uid:   uid,
		gid:   gid,
		home:  fields[5],
		shell: fields[6],
	}, true
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Ensure Probe implements the probe.Probe interface.
var _ probe.Probe = (*Probe)(nil)
