// Package docker provides a connector that executes commands inside a
// running container through the docker CLI. It exists for targets addressed
// with the docker: scheme; no daemon API client is needed for the handful of
// exec and cp calls probes make.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/dcadm/dcadm/internal/connector"
)

// Connector executes commands inside one container via docker exec.
type Connector struct {
	container string
	user      string
}

// Option configures the docker connector.
type Option func(*Connector)

// WithUser sets the user commands execute as inside the container.
func WithUser(user string) Option {
	return func(c *Connector) {
		c.user = user
	}
}

// New creates a connector for the named container. The name may be anything
// docker resolves: a container name, a short ID, or a full ID.
func New(container string, opts ...Option) *Connector {
	c := &Connector{container: container}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect verifies the docker CLI is present and the container is running.
func (c *Connector) Connect(ctx context.Context) error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker command not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", c.container)
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("container %s not found: %w", c.container, err)
	}
	if strings.TrimSpace(string(out)) != "true" {
		return fmt.Errorf("container %s is not running", c.container)
	}
	return nil
}

// Execute runs a shell command inside the container. A non-zero exit status
// is reported through the result, not as an error.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	args := []string{"exec"}
	if c.user != "" {
		args = append(args, "-u", c.user)
	}
	args = append(args, c.container, "/bin/sh", "-c", cmd)

	execCmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to exec in container %s: %w", c.container, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// Upload writes src to dst inside the container. docker cp cannot read from
// stdin, so the content is staged in a temp file first.
func (c *Connector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	tmp, err := os.CreateTemp("", "dcadm-upload-*")
	if err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	tmp.Close()

	cp := exec.CommandContext(ctx, "docker", "cp", tmpPath, c.container+":"+dst)
	if out, err := cp.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to copy into container %s: %s: %w", c.container, strings.TrimSpace(string(out)), err)
	}

	result, err := c.Execute(ctx, fmt.Sprintf("chmod %o %s", mode, shellQuote(dst)))
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("failed to set mode on %s: %s", dst, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Close is a no-op; docker exec sessions hold no persistent transport.
func (c *Connector) Close() error {
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	if c.user != "" {
		return fmt.Sprintf("docker://%s@%s", c.user, c.container)
	}
	return "docker://" + c.container
}

// shellQuote wraps a string in single quotes for safe shell usage.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
