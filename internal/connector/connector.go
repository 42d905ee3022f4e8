// Package connector defines the transport probes use to run commands on a
// target, local or remote. Probes only see this interface; which transport
// they got is decided at dial time from the target itself.
package connector

import (
	"context"
	"io"
)

// Result holds the output of one executed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Connector executes commands on one target over an established transport.
type Connector interface {
	// Connect establishes the transport. It must be called before Execute
	// or Upload and respects the context's deadline.
	Connect(ctx context.Context) error

	// Execute runs a shell command on the target. A non-zero exit status
	// is reported through Result.ExitCode, not as an error; errors mean
	// the command could not be run at all.
	Execute(ctx context.Context, cmd string) (*Result, error)

	// Upload writes src to the file at dst on the target with the given
	// permission bits.
	Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error

	// Close releases the transport. Safe to call on a never-connected or
	// already-closed connector.
	Close() error

	// String describes the transport endpoint without credential
	// material, e.g. "ssh://deploy@web-01:22".
	String() string
}
