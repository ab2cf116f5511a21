package ports

import (
	"context"

	"golang.org/x/crypto/ssh"
)

// SSHDialer opens authenticated SSH connections. Cancelling ctx aborts
// both the TCP connect and the handshake.
type SSHDialer interface {
	DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
