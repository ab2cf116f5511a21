// Package fakesshdialer provides a scriptable ports.SSHDialer for tests.
package fakesshdialer

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/shellpilot/internal/ports"
)

// ErrNotConfigured is returned by a Dialer nobody scripted.
var ErrNotConfigured = errors.New("fakesshdialer: not configured")

// DialFunc is the scripted behavior of Dial.
type DialFunc func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Dialer records dials and delegates them to a DialFunc.
type Dialer struct {
	mu       sync.Mutex
	dialFunc DialFunc
	calls    []DialCall
}

// DialCall records one call to DialContext.
type DialCall struct {
	Network string
	Addr    string
	Config  *ssh.ClientConfig
}

// New creates a Dialer that fails every dial with ErrNotConfigured.
func New() *Dialer {
	return &Dialer{dialFunc: func(context.Context, string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, ErrNotConfigured
	}}
}

// DialContext records the call and delegates to the scripted function.
func (d *Dialer) DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, Config: config})
	fn := d.dialFunc
	d.mu.Unlock()
	return fn(ctx, network, addr, config)
}

// Calls returns all recorded dials.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// SetDialFunc scripts DialContext.
func (d *Dialer) SetDialFunc(fn DialFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialFunc = fn
}

// SetError makes every dial fail with err.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(context.Context, string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}

// BlockUntilCancelled makes every dial wait for its context.
func (d *Dialer) BlockUntilCancelled() {
	d.SetDialFunc(func(ctx context.Context, _, _ string, _ *ssh.ClientConfig) (*ssh.Client, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

var _ ports.SSHDialer = (*Dialer)(nil)
