// Package ssh opens interactive shells on configured remote hosts.
package ssh

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/shellpilot/internal/adapters/realclock"
	"github.com/acolita/shellpilot/internal/adapters/realsshdialer"
	"github.com/acolita/shellpilot/internal/ports"
)

// Client manages one SSH connection.
type Client struct {
	conn   *ssh.Client
	config *ssh.ClientConfig
	host   string
	port   int
	mu     sync.Mutex

	keepaliveInterval time.Duration
	maxMissed         int
	keepaliveStop     chan struct{}

	clock  ports.Clock
	dialer ports.SSHDialer
	log    *slog.Logger
}

// ClientOptions configures SSH client behavior.
type ClientOptions struct {
	Host              string
	Port              int
	User              string
	AuthMethods       []ssh.AuthMethod
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	// MaxMissedKeepalives drops the connection after that many failed
	// keepalives in a row. The shell's Wait then returns, so a session on
	// a dead link is reported as exited instead of hanging.
	MaxMissedKeepalives int
	Clock             ports.Clock
	Dialer            ports.SSHDialer
	Logger            *slog.Logger
}

// NewClient creates a new SSH client with the given options.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if len(opts.AuthMethods) == 0 {
		return nil, fmt.Errorf("at least one auth method is required")
	}
	if opts.HostKeyCallback == nil {
		return nil, fmt.Errorf("host key callback is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.MaxMissedKeepalives <= 0 {
		opts.MaxMissedKeepalives = 3
	}

	clk := opts.Clock
	if clk == nil {
		clk = realclock.New()
	}
	dial := opts.Dialer
	if dial == nil {
		dial = realsshdialer.New()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            opts.AuthMethods,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.Timeout,
		},
		host:              opts.Host,
		port:              opts.Port,
		keepaliveInterval: opts.KeepaliveInterval,
		maxMissed:         opts.MaxMissedKeepalives,
		clock:             clk,
		dialer:            dial,
		log:               log,
	}, nil
}

// Addr returns host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Connect establishes the SSH connection. ctx bounds the dial and the
// handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.Addr(), c.config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", c.Addr(), err)
	}

	c.conn = conn
	c.keepaliveStop = make(chan struct{})

	ticker := c.clock.NewTicker(c.keepaliveInterval)
	go c.keepalive(ticker, c.keepaliveStop)

	return nil
}

// keepalive probes the connection every interval and drops it once
// maxMissed probes in a row have failed.
func (c *Client) keepalive(ticker ports.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, _, err := conn.SendRequest("keepalive@openssh.com", true, nil)
		if err == nil {
			missed = 0
			continue
		}
		missed++
		c.log.Debug("ssh keepalive failed",
			slog.String("addr", c.Addr()),
			slog.Int("missed", missed),
			slog.String("error", err.Error()),
		)
		if missed >= c.maxMissed {
			c.log.Warn("ssh connection lost, closing",
				slog.String("addr", c.Addr()),
				slog.Int("missed_keepalives", missed),
			)
			c.drop(conn)
			return
		}
	}
}

// drop closes conn if it is still the current connection.
func (c *Client) drop(conn *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
	}
}

// NewSession opens a channel on the connection.
func (c *Client) NewSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return session, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Close was not called.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
