// Package realsshdialer dials SSH servers over TCP.
package realsshdialer

import (
	"context"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/shellpilot/internal/ports"
)

// Dialer implements ports.SSHDialer.
type Dialer struct {
	net net.Dialer
}

// New creates a Dialer.
func New() *Dialer {
	return &Dialer{}
}

// DialContext connects and runs the SSH handshake. config.Timeout, when
// set, bounds the whole operation.
func (d *Dialer) DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	conn, err := d.net.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	// The handshake does not take a context; expire the connection
	// deadline when ctx ends instead.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			c.Close()
		}
		conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

var _ ports.SSHDialer = (*Dialer)(nil)
