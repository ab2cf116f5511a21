package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/shellpilot/internal/ports"
)

// ShellOptions configures the remote terminal.
type ShellOptions struct {
	Term string
	Rows int
	Cols int
	// Env is sent with setenv requests. Servers commonly refuse most
	// variables, so failures are ignored.
	Env map[string]string
	// Init is written right after the shell starts, e.g. a PS1 assignment.
	Init string
}

// Shell is an interactive shell on a remote host. It owns its client
// connection and implements ports.Shell.
type Shell struct {
	client  *Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closeErr  error
}

// StartShell connects client if needed and starts a login shell in a
// remote pseudo-terminal.
func StartShell(ctx context.Context, client *Client, opts ShellOptions) (*Shell, error) {
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if opts.Term == "" {
		opts.Term = "xterm-color"
	}
	if opts.Rows <= 0 {
		opts.Rows = 30
	}
	if opts.Cols <= 0 {
		opts.Cols = 80
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	for key, value := range opts.Env {
		_ = session.Setenv(key, value)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	sh := &Shell{client: client, session: session, stdin: stdin, stdout: stdout}
	if opts.Init != "" {
		if _, err := sh.Write([]byte(opts.Init)); err != nil {
			sh.Close()
			return nil, fmt.Errorf("write init: %w", err)
		}
	}
	return sh, nil
}

// Read reads shell output.
func (s *Shell) Read(b []byte) (int, error) {
	return s.stdout.Read(b)
}

// Write writes to the shell's input.
func (s *Shell) Write(b []byte) (int, error) {
	return s.stdin.Write(b)
}

// Resize changes the remote terminal size.
func (s *Shell) Resize(rows, cols int) error {
	if err := s.session.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("window change: %w", err)
	}
	return nil
}

// Interrupt writes Ctrl+C to the shell.
func (s *Shell) Interrupt() error {
	_, err := s.stdin.Write([]byte{0x03})
	return err
}

// Kill asks the server to kill the shell and drops the connection. Many
// servers ignore signal requests, so the connection is always closed.
func (s *Shell) Kill() error {
	_ = s.session.Signal(ssh.SIGKILL)
	return s.Close()
}

// Wait blocks until the remote shell exits. A shell that ended without an
// exit status, including one whose connection was closed, reports -1.
func (s *Shell) Wait() (int, error) {
	err := s.session.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) || errors.Is(err, io.EOF) {
		return -1, nil
	}
	return -1, err
}

// Close ends the session and closes the connection. Safe to call more than
// once.
func (s *Shell) Close() error {
	s.closeOnce.Do(func() {
		_ = s.session.Close()
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

var _ ports.Shell = (*Shell)(nil)
