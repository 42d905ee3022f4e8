// Package target resolves operator-supplied host expressions into the
// concrete endpoints a diagnostic run fans out over. Expressions come from
// command arguments or a YAML inventory and may name single hosts, CIDR
// blocks, address ranges, local aliases, or docker containers.
package target

import (
	"encoding/json"
	"time"
)

// Transport selects how commands reach a target.
type Transport string

const (
	// TransportLocal executes in-process on the machine running dcadm.
	TransportLocal Transport = "local"
	// TransportSSH executes over an SSH session.
	TransportSSH Transport = "ssh"
	// TransportDocker executes inside a container via the docker CLI.
	TransportDocker Transport = "docker"
)

// DefaultSSHPort is used when a host expression carries no explicit port.
const DefaultSSHPort = 22

// Credential carries the authentication material for one target. It is an
// opaque capability reference: nothing between resolution and the connector
// handshake reads it, and both String and MarshalJSON emit redacted forms so
// secrets cannot leak through logs or machine output.
type Credential struct {
	User       string
	Password   string
	KeyPath    string
	Passphrase string
}

// IsZero reports whether no credential material is set.
func (c Credential) IsZero() bool {
	return c == Credential{}
}

// String identifies the credential without exposing secrets.
func (c Credential) String() string {
	switch {
	case c.IsZero():
		return "none"
	case c.User != "":
		return c.User + ":[redacted]"
	default:
		return "[redacted]"
	}
}

// MarshalJSON emits only the user name. Password, key path, and passphrase
// never serialize.
func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		User string `json:"user,omitempty"`
	}{User: c.User})
}

// Target is one resolved endpoint. Name is the stable identifier results
// are keyed and ordered by; Host is what the transport dials.
type Target struct {
	Name       string
	Host       string
	Port       int
	Transport  Transport
	Credential Credential

	// Timeout overrides the dispatcher's per-target budget when positive.
	Timeout time.Duration
}

// IsLocal reports whether the target executes in-process.
func (t *Target) IsLocal() bool {
	return t.Transport == TransportLocal
}

// String returns the target's identifier.
func (t Target) String() string {
	return t.Name
}

// LocalTarget returns the implicit target used when a command runs against
// the machine dcadm itself is on.
func LocalTarget() Target {
	return Target{
		Name:      "local",
		Host:      "localhost",
		Transport: TransportLocal,
	}
}
