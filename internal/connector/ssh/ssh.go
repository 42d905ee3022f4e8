// Package ssh provides a connector that executes commands on remote hosts
// over SSH. Authentication supports passwords and private key files, with
// optional passphrases.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/dcadm/dcadm/internal/connector"
)

// DefaultConnectTimeout bounds the TCP dial and SSH handshake when the
// caller's context carries no deadline.
const DefaultConnectTimeout = 10 * time.Second

// Connector executes commands on a remote host over SSH.
type Connector struct {
	host       string
	port       int
	user       string
	password   string
	keyPath    string
	passphrase string
	timeout    time.Duration

	client *gossh.Client
}

// Option configures the SSH connector.
type Option func(*Connector)

// WithPassword enables password authentication.
func WithPassword(password string) Option {
	return func(c *Connector) {
		c.password = password
	}
}

// WithPrivateKey enables public key authentication using the key file at
// path. The passphrase may be empty for unencrypted keys.
func WithPrivateKey(path, passphrase string) Option {
	return func(c *Connector) {
		c.keyPath = path
		c.passphrase = passphrase
	}
}

// WithPort overrides the default SSH port 22.
func WithPort(port int) Option {
	return func(c *Connector) {
		if port > 0 {
			c.port = port
		}
	}
}

// WithTimeout bounds the dial and handshake.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Connector) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// New creates an SSH connector for user@host. Connect must be called before
// commands can be executed.
func New(host, user string, opts ...Option) *Connector {
	c := &Connector{
		host:    host,
		port:    22,
		user:    user,
		timeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// authMethods assembles the authentication chain from the configured
// material. Key auth is tried before password auth when both are present.
func (c *Connector) authMethods() ([]gossh.AuthMethod, error) {
	var methods []gossh.AuthMethod

	if c.keyPath != "" {
		key, err := os.ReadFile(c.keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		var signer gossh.Signer
		if c.passphrase != "" {
			signer, err = gossh.ParsePrivateKeyWithPassphrase(key, []byte(c.passphrase))
		} else {
			signer, err = gossh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing private key %s: %w", c.keyPath, err)
		}
		methods = append(methods, gossh.PublicKeys(signer))
	}

	if c.password != "" {
		methods = append(methods, gossh.Password(c.password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method for %s: need a password or key file", c.endpoint())
	}
	return methods, nil
}

// Connect dials the host and completes the SSH handshake. The context
// deadline, when sooner than the configured timeout, wins.
func (c *Connector) Connect(ctx context.Context) error {
	if c.user == "" {
		return fmt.Errorf("no user configured for %s", c.endpoint())
	}

	auth, err := c.authMethods()
	if err != nil {
		return err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	cfg := &gossh.ClientConfig{
		User:            c.user,
		Auth:            auth,
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	c.client = gossh.NewClient(sshConn, chans, reqs)
	return nil
}

// Execute runs a command in a fresh session. A non-zero remote exit status
// is returned through the result, not as an error.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected to %s", c.endpoint())
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening session on %s: %w", c.endpoint(), err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		// Closing the session unblocks Run; its result is discarded.
		session.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		exitErr, ok := err.(*gossh.ExitError)
		if !ok {
			return nil, fmt.Errorf("running command on %s: %w", c.endpoint(), err)
		}
		result.ExitCode = exitErr.ExitStatus()
	}
	return result, nil
}

// Upload streams src into dst on the remote host and applies the mode bits.
func (c *Connector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	if c.client == nil {
		return fmt.Errorf("not connected to %s", c.endpoint())
	}

	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("opening session on %s: %w", c.endpoint(), err)
	}
	defer session.Close()

	session.Stdin = src
	quoted := shellQuote(dst)
	cmd := fmt.Sprintf("cat > %s && chmod %o %s", quoted, mode, quoted)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return ctx.Err()
	case err = <-done:
	}
	if err != nil {
		return fmt.Errorf("uploading to %s on %s: %w", dst, c.endpoint(), err)
	}
	return nil
}

// Close terminates the SSH connection.
func (c *Connector) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// String returns a description of the connection without credentials.
func (c *Connector) String() string {
	return "ssh://" + c.endpoint()
}

func (c *Connector) endpoint() string {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	if c.user == "" {
		return addr
	}
	return c.user + "@" + addr
}

// shellQuote wraps a string in single quotes for safe shell usage.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
