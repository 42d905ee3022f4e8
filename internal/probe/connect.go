package probe

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dcadm/dcadm/internal/connector"
	"github.com/dcadm/dcadm/internal/connector/docker"
	"github.com/dcadm/dcadm/internal/connector/local"
	"github.com/dcadm/dcadm/internal/connector/ssh"
	"github.com/dcadm/dcadm/internal/target"
)

// Connect dials the transport a target calls for: in-process execution for
// local targets, docker exec for containers, SSH for everything else. The
// caller owns the returned connector and must Close it. Credential material
// flows through untouched and unlogged.
func Connect(ctx context.Context, t *target.Target) (connector.Connector, error) {
	conn := build(t)

	log.WithFields(log.Fields{
		"target":    t.Name,
		"transport": conn.String(),
	}).Debug("connecting")

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", t.Name, err)
	}
	return conn, nil
}

func build(t *target.Target) connector.Connector {
	switch t.Transport {
	case target.TransportLocal:
		return local.New()
	case target.TransportDocker:
		var opts []docker.Option
		if t.Credential.User != "" {
			opts = append(opts, docker.WithUser(t.Credential.User))
		}
		return docker.New(t.Host, opts...)
	}

	opts := []ssh.Option{ssh.WithPort(t.Port)}
	if t.Timeout > 0 {
		opts = append(opts, ssh.WithTimeout(t.Timeout))
	}

	cred := t.Credential
	if cred.KeyPath != "" {
		opts = append(opts, ssh.WithPrivateKey(cred.KeyPath, cred.Passphrase))
	}
	if cred.Password != "" {
		opts = append(opts, ssh.WithPassword(cred.Password))
	}
	return ssh.New(t.Host, cred.User, opts...)
}
