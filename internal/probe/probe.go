// Package probe defines the unit of diagnostic work dcadm runs against
// targets. Each probe kind registers itself at init time; commands select a
// kind by name and configure it through a parameter map.
package probe

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dcadm/dcadm/internal/target"
)

// Probe kinds. Each maps to one dcadm command.
const (
	KindResourceSnapshot = "resource-snapshot"
	KindPortScan         = "port-scan"
	KindLogTail          = "log-tail"
	KindHashScan         = "hash-scan"
	KindPackageAudit     = "package-audit"
	KindUserOp           = "user-op"
	KindBackupSync       = "backup-sync"
)

// Spec selects a probe kind and carries its parameters for one invocation.
// One Spec configures the single probe instance shared by all targets of a
// run, so probes must keep Run free of mutable state.
type Spec struct {
	Kind   string
	Params map[string]any
}

// Probe is one diagnostic check. Run is called once per target, possibly
// from many goroutines at once, and must always return a Result.
type Probe interface {
	// Kind returns the probe's registered name.
	Kind() string

	// Describe returns a one-line summary of what this instance will do.
	Describe() string

	// Run executes the probe against one target. Failures are reported
	// through the Result, never by panicking; the context carries the
	// per-target deadline.
	Run(ctx context.Context, t *target.Target) *Result
}

// Builder constructs a configured Probe from invocation parameters. It
// validates everything up front so a bad invocation fails before any target
// is contacted.
type Builder func(params map[string]any) (Probe, error)

// registry holds all registered probe builders.
var (
	registry   = make(map[string]Builder)
	registryMu sync.RWMutex
)

// Register adds a probe builder to the registry.
// It panics if the kind is already registered.
func Register(kind string, b Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("probe %q is already registered", kind))
	}
	registry[kind] = b
}

// Build constructs the probe a spec names.
func Build(spec Spec) (Probe, error) {
	registryMu.RLock()
	b, ok := registry[spec.Kind]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown probe kind %q", spec.Kind)
	}
	p, err := b(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", spec.Kind, err)
	}
	return p, nil
}

// Kinds returns the names of all registered probes, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
