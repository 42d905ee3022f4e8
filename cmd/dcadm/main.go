// Package main is the entrypoint for the dcadm CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	// Import probes to register them
	_ "github.com/dcadm/dcadm/internal/probe/backup"
	_ "github.com/dcadm/dcadm/internal/probe/pkgaudit"

	"github.com/dcadm/dcadm/internal/config"
	"github.com/dcadm/dcadm/internal/dispatch"
	"github.com/dcadm/dcadm/internal/output"
	"github.com/dcadm/dcadm/internal/probe"
	"github.com/dcadm/dcadm/internal/report"
	"github.com/dcadm/dcadm/internal/target"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	cfgPath       string
	outputFormat  string
	noColor       bool
	debug         bool
	concurrency   int
	globalTimeout time.Duration
	targetTimeout time.Duration
)

// cfg is loaded before any command runs.
var cfg *config.Config

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "dcadm: internal error: %v\n", r)
			os.Exit(report.ExitInternal)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		// Everything that errors before dispatch is a usage problem:
		// bad flags, bad target expressions, unreadable config.
		// Probe outcomes never travel this path.
		os.Exit(report.ExitUsage)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dcadm",
	Short: "dcadm - data-center diagnostics for hosts and fleets",
	Long: `dcadm runs diagnostic probes against the local machine or fleets of
remote machines: resource monitoring, port reachability, log inspection,
package audits, user management, backup sync, and forensic hashing.

Targets are plain hosts, user@host:port, CIDR blocks, IP ranges,
docker:NAME containers, or YAML inventories. Every probed host appears
in the report; the exit code reflects the whole run (0 all ok,
1 partial failure, 2 all failed).`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "config file (default: dcadm.yaml in ., ~/.config/dcadm, /etc/dcadm)")
	pf.StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	pf.IntVar(&concurrency, "concurrency", dispatch.DefaultMaxConcurrency, "max targets probed at once")
	pf.DurationVar(&globalTimeout, "timeout", dispatch.DefaultGlobalTimeout, "time budget for the whole run")
	pf.DurationVar(&targetTimeout, "target-timeout", dispatch.DefaultTargetTimeout, "time budget per target")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(netcheckCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(securityAuditCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(forensicsCmd)
	rootCmd.AddCommand(probesCmd)
}

// setup loads configuration and wires logging. Flags beat config values,
// config beats defaults; config.Load already handled DCADM_* env.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return err
	}

	fl := cmd.Flags()
	if !fl.Changed("output") {
		outputFormat = cfg.Output
	}
	if !fl.Changed("no-color") {
		noColor = cfg.NoColor
	}
	if !fl.Changed("debug") {
		debug = cfg.Debug
	}
	if !fl.Changed("concurrency") {
		concurrency = cfg.Concurrency
	}
	if !fl.Changed("timeout") {
		globalTimeout = cfg.GlobalTimeout
	}
	if !fl.Changed("target-timeout") {
		targetTimeout = cfg.TargetTimeout
	}

	switch outputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid output format %q (want text or json)", outputFormat)
	}

	// Reports go to stdout, logs to stderr, so json output stays parseable.
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: noColor})
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
	return nil
}

// fleetFlags are the target-selection flags shared by every probe command.
type fleetFlags struct {
	hosts      []string
	inventory  string
	user       string
	password   string
	keyPath    string
	passphrase string
	port       int
}

func (f *fleetFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringSliceVarP(&f.hosts, "host", "H", nil, "target: host, user@host:port, CIDR, IP range, or docker:NAME (repeatable)")
	fl.StringVarP(&f.inventory, "inventory", "i", "", "YAML inventory file")
	fl.StringVarP(&f.user, "user", "u", "", "SSH user")
	fl.StringVar(&f.password, "password", "", "SSH password (prefer --key)")
	fl.StringVarP(&f.keyPath, "key", "k", "", "SSH private key path")
	fl.StringVar(&f.passphrase, "passphrase", "", "passphrase for the private key")
	fl.IntVar(&f.port, "port", 0, "SSH port (default 22)")
}

// resolve turns positional host expressions, --host flags, and the inventory
// into the target list. With nothing given, fallback is used (usually
// "local" so single-machine runs need no flags at all).
func (f *fleetFlags) resolve(args []string, fallback string) ([]target.Target, error) {
	raw := make([]string, 0, len(args)+len(f.hosts))
	raw = append(raw, args...)
	raw = append(raw, f.hosts...)
	if len(raw) == 0 && f.inventory == "" && fallback != "" {
		raw = append(raw, fallback)
	}

	// Target.Timeout stays zero here; the dispatcher applies the global
	// per-target budget and only inventory entries override it.
	opts := target.Options{
		User:       f.user,
		Password:   f.password,
		KeyPath:    f.keyPath,
		Passphrase: f.passphrase,
		Port:       f.port,
	}
	if opts.User == "" {
		opts.User = cfg.SSH.User
	}
	if opts.KeyPath == "" {
		opts.KeyPath = cfg.SSH.Key
	}
	if opts.Port == 0 {
		opts.Port = cfg.SSH.Port
	}
	return target.ResolveAll(raw, f.inventory, opts)
}

// runProbe is the pipeline every probe command ends in: build the probe,
// resolve targets, dispatch, aggregate, render, exit. Errors returned from
// here happen before any target was contacted and exit with the usage code;
// once dispatch ran, the report's status decides the exit code.
func runProbe(spec probe.Spec, fleet *fleetFlags, hostArgs []string, fallback string) error {
	p, err := probe.Build(spec)
	if err != nil {
		return err
	}
	targets, err := fleet.resolve(hostArgs, fallback)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	log.WithFields(log.Fields{
		"run_id":  runID,
		"probe":   p.Kind(),
		"targets": len(targets),
	}).Debug("run starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, abandoning unfinished targets...")
		cancel()
	}()

	d := dispatch.New(dispatch.Options{
		MaxConcurrency: concurrency,
		GlobalTimeout:  globalTimeout,
		TargetTimeout:  targetTimeout,
	})

	started := time.Now()
	results := d.Dispatch(ctx, p, targets)

	rep := report.Aggregate(runID, p.Kind(), results)
	rep.Description = p.Describe()
	rep.StartedAt = started
	rep.Elapsed = time.Since(started)

	out := output.New(os.Stdout)
	out.SetColor(!noColor)
	out.SetDebug(debug)
	if outputFormat == "json" {
		if err := out.RenderJSON(rep); err != nil {
			return err
		}
	} else {
		out.Render(rep)
	}

	os.Exit(rep.ExitCode())
	return nil
}

// Helpers picking a flag value when set, the config value otherwise.

func pickInt(cmd *cobra.Command, name string, flagVal, cfgVal int) int {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}

func pickString(cmd *cobra.Command, name, flagVal, cfgVal string) string {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}

func pickDuration(cmd *cobra.Command, name string, flagVal, cfgVal time.Duration) time.Duration {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}

func pickIntSlice(cmd *cobra.Command, name string, flagVal, cfgVal []int) []int {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}
