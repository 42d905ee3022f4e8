package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/probe/hashscan"
	"github.com/dcadm/dcadm/internal/probe/logtail"
	"github.com/dcadm/dcadm/internal/probe/portscan"
	"github.com/dcadm/dcadm/internal/probe/resource"
	"github.com/dcadm/dcadm/internal/probe/userop"
)

// monitorCmd snapshots resource utilization.
var monitorCmd = &cobra.Command{
	Use:   "monitor [HOST|CIDR|RANGE]...",
	Short: "Snapshot CPU, memory, and disk utilization",
	Long: `Sample CPU, memory, and disk usage on each target and classify every
metric against its alert threshold. Without targets the local machine
is sampled.

Examples:
  dcadm monitor
  dcadm monitor web-01 web-02 --threshold-cpu 90
  dcadm monitor 10.0.1.0/24 -u deploy -k ~/.ssh/id_ed25519
  dcadm monitor -i fleet.yaml --output json`,
	RunE: runMonitor,
}

var monitorOpts struct {
	fleet         fleetFlags
	thresholdCPU  int
	thresholdMem  int
	thresholdDisk int
	diskPath      string
	interval      time.Duration
}

func init() {
	fl := monitorCmd.Flags()
	fl.IntVar(&monitorOpts.thresholdCPU, "threshold-cpu", resource.DefaultCPUThreshold, "alert when CPU usage exceeds this percent")
	fl.IntVar(&monitorOpts.thresholdMem, "threshold-mem", resource.DefaultMemThreshold, "alert when memory usage exceeds this percent")
	fl.IntVar(&monitorOpts.thresholdDisk, "threshold-disk", resource.DefaultDiskThreshold, "alert when disk usage exceeds this percent")
	fl.StringVar(&monitorOpts.diskPath, "disk-path", "/", "mount point to measure")
	fl.DurationVar(&monitorOpts.interval, "interval", time.Second, "CPU sampling window (local targets)")
	monitorOpts.fleet.register(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindResourceSnapshot,
		Params: map[string]any{
			"threshold-cpu":  pickInt(cmd, "threshold-cpu", monitorOpts.thresholdCPU, cfg.Monitor.ThresholdCPU),
			"threshold-mem":  pickInt(cmd, "threshold-mem", monitorOpts.thresholdMem, cfg.Monitor.ThresholdMem),
			"threshold-disk": pickInt(cmd, "threshold-disk", monitorOpts.thresholdDisk, cfg.Monitor.ThresholdDisk),
			"disk-path":      pickString(cmd, "disk-path", monitorOpts.diskPath, cfg.Monitor.DiskPath),
			"interval":       pickDuration(cmd, "interval", monitorOpts.interval, cfg.Monitor.Interval),
		},
	}
	return runProbe(spec, &monitorOpts.fleet, args, "local")
}

// netcheckCmd scans ports for reachability.
var netcheckCmd = &cobra.Command{
	Use:   "netcheck [HOST|CIDR|RANGE]...",
	Short: "Check host reachability and scan ports",
	Long: `Dial a list of TCP ports on each target and report open, closed, and
filtered states. A host that answers on no port at all counts as
unreachable. Without targets a well-known public host is checked, which
makes a bare "dcadm netcheck" an internet connectivity test.

Examples:
  dcadm netcheck
  dcadm netcheck web-01 --ports 22,80,443,8080
  dcadm netcheck 10.0.1.0/24 --ports 22 --dial-timeout 500ms
  dcadm netcheck db-01 --icmp`,
	RunE: runNetcheck,
}

var netcheckOpts struct {
	fleet       fleetFlags
	ports       []int
	dialTimeout time.Duration
	icmp        bool
}

func init() {
	fl := netcheckCmd.Flags()
	fl.IntSliceVar(&netcheckOpts.ports, "ports", portscan.DefaultPorts, "ports to scan")
	fl.DurationVar(&netcheckOpts.dialTimeout, "dial-timeout", portscan.DefaultDialTimeout, "timeout per port dial")
	fl.BoolVar(&netcheckOpts.icmp, "icmp", false, "use an ICMP echo for the reachability check")
	netcheckOpts.fleet.register(netcheckCmd)
}

func runNetcheck(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindPortScan,
		Params: map[string]any{
			"ports":        pickIntSlice(cmd, "ports", netcheckOpts.ports, cfg.Netcheck.Ports),
			"dial-timeout": pickDuration(cmd, "dial-timeout", netcheckOpts.dialTimeout, cfg.Netcheck.DialTimeout),
			"icmp":         netcheckOpts.icmp,
		},
	}
	return runProbe(spec, &netcheckOpts.fleet, args, cfg.Netcheck.Host)
}

// logsCmd tails and filters log files.
var logsCmd = &cobra.Command{
	Use:   "logs PATH",
	Short: "Tail a log file, optionally filtering for errors",
	Long: `Read the last lines of a log file on each target. Lines can be filtered
to those containing error markers (ERROR, FAIL) or a literal substring.

Examples:
  dcadm logs /var/log/syslog
  dcadm logs /var/log/app.log --tail 500 --errors-only
  dcadm logs /var/log/nginx/error.log --match "upstream" -H web-01 -H web-02`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

var logsOpts struct {
	fleet      fleetFlags
	tail       int
	errorsOnly bool
	match      string
}

func init() {
	fl := logsCmd.Flags()
	fl.IntVarP(&logsOpts.tail, "tail", "n", logtail.DefaultTailLines, "number of lines to read from the end")
	fl.BoolVar(&logsOpts.errorsOnly, "errors-only", false, "keep only lines containing ERROR or FAIL")
	fl.StringVar(&logsOpts.match, "match", "", "keep only lines containing this substring")
	logsOpts.fleet.register(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindLogTail,
		Params: map[string]any{
			"path":        args[0],
			"tail":        pickInt(cmd, "tail", logsOpts.tail, cfg.Logs.Tail),
			"errors-only": logsOpts.errorsOnly,
			"match":       logsOpts.match,
		},
	}
	return runProbe(spec, &logsOpts.fleet, nil, "local")
}

// securityAuditCmd reports pending package updates.
var securityAuditCmd = &cobra.Command{
	Use:   "security-audit [HOST|CIDR|RANGE]...",
	Short: "Audit pending package updates",
	Long: `List outdated packages as reported by the target's package manager
(apt, dnf, yum, apk, or brew, autodetected), counting security updates
separately.

Examples:
  dcadm security-audit
  dcadm security-audit web-01 db-01 -u admin -k ~/.ssh/id_rsa
  dcadm security-audit docker:billing-app --security-only`,
	RunE: runSecurityAudit,
}

var securityAuditOpts struct {
	fleet        fleetFlags
	manager      string
	securityOnly bool
}

func init() {
	fl := securityAuditCmd.Flags()
	fl.StringVar(&securityAuditOpts.manager, "manager", "auto", "package manager: auto, apt, dnf, yum, apk, or brew")
	fl.BoolVar(&securityAuditOpts.securityOnly, "security-only", false, "report only security updates")
	securityAuditOpts.fleet.register(securityAuditCmd)
}

func runSecurityAudit(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindPackageAudit,
		Params: map[string]any{
			"manager":       securityAuditOpts.manager,
			"security-only": securityAuditOpts.securityOnly,
		},
	}
	return runProbe(spec, &securityAuditOpts.fleet, args, "local")
}

// backupCmd synchronizes a directory tree.
var backupCmd = &cobra.Command{
	Use:   "backup SRC DST",
	Short: "Sync a file or directory to a destination",
	Long: `Recursively copy SRC to DST, preserving file modes. Files whose content
already matches are skipped, so repeated runs only move what changed.
With remote targets SRC is read on this machine and pushed to DST on
each target.

Examples:
  dcadm backup /etc/nginx /srv/backup/nginx
  dcadm backup /var/lib/app /backup/app --checksum=false
  dcadm backup /etc/ssl /srv/mirror/ssl -H standby-01 -u deploy`,
	Args: cobra.ExactArgs(2),
	RunE: runBackup,
}

var backupOpts struct {
	fleet    fleetFlags
	checksum bool
}

func init() {
	backupCmd.Flags().BoolVar(&backupOpts.checksum, "checksum", true, "skip files whose content already matches")
	backupOpts.fleet.register(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindBackupSync,
		Params: map[string]any{
			"src":      args[0],
			"dst":      args[1],
			"checksum": backupOpts.checksum,
		},
	}
	return runProbe(spec, &backupOpts.fleet, nil, "local")
}

// usersCmd groups the account operations.
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect and manage user accounts",
	Long:  `List, add, or remove user accounts on the local machine or across a fleet.`,
}

var usersListCmd = &cobra.Command{
	Use:   "list [HOST|CIDR|RANGE]...",
	Short: "List user accounts",
	Long: `List accounts from the passwd database, filtered to regular users by a
uid floor.

Examples:
  dcadm users list
  dcadm users list --min-uid 0
  dcadm users list web-01 db-01 -u admin`,
	RunE: runUsersList,
}

var usersListOpts struct {
	fleet  fleetFlags
	minUID int
}

var usersAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a user account",
	Long: `Create a user account. Adding an account that already exists succeeds
without changing anything, so the command is safe to re-run.

Examples:
  dcadm users add deploy -H web-01 -H web-02 -u root
  dcadm users add builder --system --shell /sbin/nologin --sudo`,
	Args: cobra.ExactArgs(1),
	RunE: runUsersAdd,
}

var usersAddOpts struct {
	fleet  fleetFlags
	home   string
	shell  string
	system bool
	sudo   bool
}

var usersRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a user account",
	Long: `Delete a user account. Removing an account that does not exist succeeds
without changing anything.

Examples:
  dcadm users remove builder
  dcadm users remove olduser --remove-home -H web-01 --sudo`,
	Args: cobra.ExactArgs(1),
	RunE: runUsersRemove,
}

var usersRemoveOpts struct {
	fleet      fleetFlags
	removeHome bool
	sudo       bool
}

func init() {
	usersListCmd.Flags().IntVar(&usersListOpts.minUID, "min-uid", userop.DefaultMinUID, "lowest uid to treat as a regular account")
	usersListOpts.fleet.register(usersListCmd)

	fl := usersAddCmd.Flags()
	fl.StringVar(&usersAddOpts.home, "home", "", "home directory")
	fl.StringVar(&usersAddOpts.shell, "shell", "", "login shell")
	fl.BoolVar(&usersAddOpts.system, "system", false, "create a system account")
	fl.BoolVar(&usersAddOpts.sudo, "sudo", false, "escalate with sudo")
	usersAddOpts.fleet.register(usersAddCmd)

	fl = usersRemoveCmd.Flags()
	fl.BoolVar(&usersRemoveOpts.removeHome, "remove-home", false, "also delete the home directory")
	fl.BoolVar(&usersRemoveOpts.sudo, "sudo", false, "escalate with sudo")
	usersRemoveOpts.fleet.register(usersRemoveCmd)

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersRemoveCmd)
}

func runUsersList(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindUserOp,
		Params: map[string]any{
			"op":      userop.OpList,
			"min-uid": usersListOpts.minUID,
		},
	}
	return runProbe(spec, &usersListOpts.fleet, args, "local")
}

func runUsersAdd(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindUserOp,
		Params: map[string]any{
			"op":     userop.OpAdd,
			"name":   args[0],
			"home":   usersAddOpts.home,
			"shell":  usersAddOpts.shell,
			"system": usersAddOpts.system,
			"sudo":   usersAddOpts.sudo,
		},
	}
	return runProbe(spec, &usersAddOpts.fleet, nil, "local")
}

func runUsersRemove(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindUserOp,
		Params: map[string]any{
			"op":          userop.OpRemove,
			"name":        args[0],
			"remove-home": usersRemoveOpts.removeHome,
			"sudo":        usersRemoveOpts.sudo,
		},
	}
	return runProbe(spec, &usersRemoveOpts.fleet, nil, "local")
}

// forensicsCmd hashes files for integrity checks.
var forensicsCmd = &cobra.Command{
	Use:   "forensics PATH...",
	Short: "Hash files and directories for integrity checks",
	Long: `Compute digests of files, walking directories recursively. Useful for
comparing a suspect host against a known-good one.

Examples:
  dcadm forensics /etc/passwd /etc/shadow
  dcadm forensics /usr/local/bin --algo sha1
  dcadm forensics /etc -H web-01 -H web-02 -u admin`,
	Args: cobra.MinimumNArgs(1),
	RunE: runForensics,
}

var forensicsOpts struct {
	fleet    fleetFlags
	algo     string
	maxFiles int
}

func init() {
	fl := forensicsCmd.Flags()
	fl.StringVar(&forensicsOpts.algo, "algo", hashscan.AlgoSHA256, "digest algorithm: sha256, sha1, or md5")
	fl.IntVar(&forensicsOpts.maxFiles, "max-files", hashscan.DefaultMaxFiles, "stop after hashing this many files")
	forensicsOpts.fleet.register(forensicsCmd)
}

func runForensics(cmd *cobra.Command, args []string) error {
	spec := probe.Spec{
		Kind: probe.KindHashScan,
		Params: map[string]any{
			"paths":     args,
			"algo":      forensicsOpts.algo,
			"max-files": forensicsOpts.maxFiles,
		},
	}
	return runProbe(spec, &forensicsOpts.fleet, nil, "local")
}

// probesCmd lists registered probe kinds.
var probesCmd = &cobra.Command{
	Use:   "probes",
	Short: "List registered probe kinds",
	Long:  `Display the probe kinds this build can dispatch.`,
	Run: func(cmd *cobra.Command, args []string) {
		kinds := probe.Kinds()
		fmt.Println("Registered probes:")
		fmt.Println()
		for _, kind := range kinds {
			fmt.Printf("  - %s\n", kind)
		}
		fmt.Println()
		fmt.Printf("Total: %d probes\n", len(kinds))
	},
}
