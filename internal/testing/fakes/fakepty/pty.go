// Package fakepty provides a fake PTY-backed shell for testing session logic
// without real terminals.
package fakepty

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/acolita/shellpilot/internal/ports"
)

// KilledExitCode is the exit code reported after Kill.
const KilledExitCode = -1

// PTY is a fake shell. Output is fed with Emit and input is captured for
// inspection with Written.
type PTY struct {
	mu       sync.Mutex
	out      chan []byte
	pending  []byte
	written  bytes.Buffer
	writes   []string
	closed   bool
	killed   bool
	exited   chan struct{}
	exitCode int
	exitOnce sync.Once
	writeErr error
}

// New creates a new fake PTY.
func New() *PTY {
	return &PTY{
		out:    make(chan []byte, 64),
		exited: make(chan struct{}),
	}
}

// Emit queues data to be returned by Read, as if the shell printed it.
func (p *PTY) Emit(data string) *PTY {
	p.out <- []byte(data)
	return p
}

// Exit makes the process exit with code.
func (p *PTY) Exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.exited)
	})
}

// SetWriteError makes subsequent writes fail with err.
func (p *PTY) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Read returns emitted chunks in order. It returns io.EOF once the process
// has exited and all emitted output was consumed.
func (p *PTY) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	var chunk []byte
	select {
	case chunk = <-p.out:
	default:
		select {
		case chunk = <-p.out:
		case <-p.exited:
			return 0, io.EOF
		}
	}

	n := copy(b, chunk)
	if n < len(chunk) {
		p.mu.Lock()
		p.pending = append(p.pending, chunk[n:]...)
		p.mu.Unlock()
	}
	return n, nil
}

// Write captures written data.
func (p *PTY) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.closed || p.isExited() {
		return 0, io.ErrClosedPipe
	}
	p.writes = append(p.writes, string(b))
	return p.written.Write(b)
}

// Close closes the fake terminal.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Kill terminates the fake process.
func (p *PTY) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.Exit(KilledExitCode)
	return nil
}

// Wait blocks until Exit or Kill is called.
func (p *PTY) Wait() (int, error) {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

func (p *PTY) isExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// --- Test inspection methods ---

// Written returns all data that was written to the PTY.
func (p *PTY) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Writes returns each Write call separately.
func (p *PTY) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

// WaitForWrite polls until the written data contains substr or the timeout
// elapses.
func (p *PTY) WaitForWrite(substr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if strings.Contains(p.Written(), substr) {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return strings.Contains(p.Written(), substr)
}

// WasKilled returns true if Kill was called.
func (p *PTY) WasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// IsClosed returns true if Close was called.
func (p *PTY) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Spawner hands out fake PTYs and records the options it was called with.
type Spawner struct {
	mu      sync.Mutex
	shells  []*PTY
	options []ports.SpawnOptions
	// Err, when set, is returned by Spawn.
	Err error
}

// ErrSpawn is a ready-made spawn failure.
var ErrSpawn = errors.New("fakepty: spawn failed")

// NewSpawner creates a spawner.
func NewSpawner() *Spawner {
	return &Spawner{}
}

// Spawn returns a new fake PTY.
func (s *Spawner) Spawn(ctx context.Context, opts ports.SpawnOptions) (ports.Shell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p := New()
	s.shells = append(s.shells, p)
	s.options = append(s.options, opts)
	return p, nil
}

// Last returns the most recently spawned PTY, or nil.
func (s *Spawner) Last() *PTY {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.shells) == 0 {
		return nil
	}
	return s.shells[len(s.shells)-1]
}

// Options returns the options of every Spawn call.
func (s *Spawner) Options() []ports.SpawnOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.SpawnOptions(nil), s.options...)
}

// Ensure PTY implements ports.Shell.
var _ ports.Shell = (*PTY)(nil)

// Ensure Spawner implements ports.Spawner.
var _ ports.Spawner = (*Spawner)(nil)
