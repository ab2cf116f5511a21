// Package pty starts local interactive shells inside pseudo-terminals.
package pty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/acolita/shellpilot/internal/ports"
)

// Prompt shapes installed when prompt normalization is on. Both end in a
// "user@host:dir$ " line that the shell-ready patterns recognize.
const (
	bashPrompt = `\u@\h:\w\$ `
	zshPrompt  = `%n@%m:%~$ `
)

// Options configures how local shells are started.
type Options struct {
	Shell           string   // shell binary; empty picks a platform default
	Term            string   // TERM value (default: xterm-color)
	NormalizePrompt bool     // install a user@host:dir$ prompt and skip rc files
	Env             []string // extra environment variables
	Logger          *slog.Logger
}

// Spawner starts local shells. It implements ports.Spawner.
type Spawner struct {
	opts Options
	log  *slog.Logger
}

// NewSpawner returns a Spawner using opts.
func NewSpawner(opts Options) *Spawner {
	if opts.Term == "" {
		opts.Term = "xterm-color"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Spawner{opts: opts, log: log}
}

// Spawn starts an interactive shell. The shell inherits the working
// directory and environment of this process unless opts override them.
// ctx bounds only the start; the shell outlives it.
func (s *Spawner) Spawn(ctx context.Context, opts ports.SpawnOptions) (ports.Shell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shell := s.opts.Shell
	if shell == "" {
		shell = detectShell()
	}
	cmd := exec.Command(shell, shellArgs(shell, s.opts.NormalizePrompt)...)
	cmd.Dir = opts.Dir

	cmd.Env = append(os.Environ(), "TERM="+s.opts.Term)
	if s.opts.NormalizePrompt {
		cmd.Env = append(cmd.Env, ShellEnv(shell)...)
	}
	cmd.Env = append(cmd.Env, s.opts.Env...)
	cmd.Env = append(cmd.Env, opts.Env...)

	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = 30
	}
	if cols <= 0 {
		cols = 80
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("start %s in pty: %w", shell, err)
	}

	s.log.Debug("local shell started",
		slog.String("session_id", opts.SessionID),
		slog.String("shell", shell),
		slog.Int("pid", cmd.Process.Pid),
	)
	return &LocalPTY{cmd: cmd, pty: ptmx, shell: shell}, nil
}

// LocalPTY is a shell process attached to a pseudo-terminal.
type LocalPTY struct {
	cmd   *exec.Cmd
	pty   *os.File
	shell string

	closeOnce sync.Once
	closeErr  error
}

// Shell returns the shell binary in use.
func (p *LocalPTY) Shell() string {
	return p.shell
}

// Read reads shell output.
func (p *LocalPTY) Read(b []byte) (int, error) {
	return p.pty.Read(b)
}

// Write writes to the shell's input.
func (p *LocalPTY) Write(b []byte) (int, error) {
	return p.pty.Write(b)
}

// Resize changes the terminal size.
func (p *LocalPTY) Resize(rows, cols uint16) error {
	return pty.Setsize(p.pty, &pty.Winsize{Rows: rows, Cols: cols})
}

// Interrupt sends SIGINT to the shell.
func (p *LocalPTY) Interrupt() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Signal(syscall.SIGINT)
}

// Kill terminates the shell. Killing an exited shell is not an error.
func (p *LocalPTY) Kill() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", p.shell, err)
	}
	return nil
}

// Wait blocks until the shell exits and returns its exit code. A shell
// ended by a signal reports -1.
func (p *LocalPTY) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Close releases the terminal. Safe to call more than once.
func (p *LocalPTY) Close() error {
	p.closeOnce.Do(func() {
		if err := p.pty.Close(); err != nil {
			p.closeErr = fmt.Errorf("close pty: %w", err)
		}
	})
	return p.closeErr
}

// ShellEnv returns the variables that install a normalized prompt for
// shell.
func ShellEnv(shell string) []string {
	switch filepath.Base(shell) {
	case "zsh":
		return []string{
			"PROMPT=" + zshPrompt,
			"PS1=" + zshPrompt,
			"RPROMPT=",
			"precmd_functions=",
		}
	case "fish":
		return []string{"fish_greeting="}
	case "powershell.exe", "pwsh.exe", "powershell", "pwsh":
		return nil
	default:
		return []string{
			"PS1=" + bashPrompt,
			"PROMPT_COMMAND=",
		}
	}
}

// shellArgs returns the arguments that keep shell interactive. With
// normalize set, rc files are skipped so they cannot override the prompt.
func shellArgs(shell string, normalize bool) []string {
	switch filepath.Base(shell) {
	case "powershell.exe", "pwsh.exe", "powershell", "pwsh":
		return []string{"-NoLogo", "-NoExit"}
	case "cmd.exe":
		return nil
	}
	args := noRCFlags(shell, normalize)
	return append(args, "-i")
}

func noRCFlags(shell string, noRC bool) []string {
	if !noRC {
		return nil
	}
	switch filepath.Base(shell) {
	case "bash":
		return []string{"--norc", "--noprofile"}
	case "zsh":
		return []string{"--no-rcs", "--no-globalrcs"}
	case "fish":
		return []string{"--no-config"}
	default:
		return nil
	}
}

// detectShell picks bash where available, then $SHELL, then /bin/sh. On
// Windows it picks PowerShell.
func detectShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	if path, err := exec.LookPath("bash"); err == nil {
		return path
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

var _ ports.Spawner = (*Spawner)(nil)
var _ ports.Shell = (*LocalPTY)(nil)
