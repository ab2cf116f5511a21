package pty

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/acolita/shellpilot/internal/ports"
)

func newTestSpawner(t *testing.T, opts Options) *Spawner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pty tests need a POSIX shell")
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSpawner(opts)
}

func spawn(t *testing.T, s *Spawner, opts ports.SpawnOptions) *LocalPTY {
	t.Helper()
	sh, err := s.Spawn(context.Background(), opts)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	p := sh.(*LocalPTY)
	t.Cleanup(func() {
		_ = p.Kill()
		_ = p.Close()
	})
	return p
}

// readUntil reads from p until the output contains want or timeout expires.
func readUntil(p *LocalPTY, want string, timeout time.Duration) (string, bool) {
	chunks := make(chan []byte, 64)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := p.Read(buf)
			if n > 0 {
				cp := make([]byte, n)
				copy(cp, buf[:n])
				chunks <- cp
			}
			if err != nil {
				return
			}
		}
	}()

	var sb strings.Builder
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return sb.String(), strings.Contains(sb.String(), want)
			}
			sb.Write(c)
			if strings.Contains(sb.String(), want) {
				return sb.String(), true
			}
		case <-deadline:
			return sb.String(), false
		}
	}
}

func TestSpawner_RunsCommands(t *testing.T) {
	s := newTestSpawner(t, Options{Env: []string{"SP_GREETING=hello_from_spawner"}})
	p := spawn(t, s, ports.SpawnOptions{SessionID: "t1"})

	if _, err := p.Write([]byte("echo $SP_GREETING\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out, ok := readUntil(p, "hello_from_spawner\r\n", 5*time.Second); !ok {
		t.Errorf("env var not echoed, got %q", out)
	}
}

func TestSpawner_Dir(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := newTestSpawner(t, Options{})
	p := spawn(t, s, ports.SpawnOptions{Dir: dir})

	_, _ = p.Write([]byte("pwd\n"))
	if out, ok := readUntil(p, dir, 5*time.Second); !ok {
		t.Errorf("pwd did not print %q, got %q", dir, out)
	}
}

func TestSpawner_Term(t *testing.T) {
	s := newTestSpawner(t, Options{})
	p := spawn(t, s, ports.SpawnOptions{})

	_, _ = p.Write([]byte("echo TERM=$TERM\n"))
	if out, ok := readUntil(p, "TERM=xterm-color\r\n", 5*time.Second); !ok {
		t.Errorf("TERM not set, got %q", out)
	}
}

func TestSpawner_CancelledContext(t *testing.T) {
	s := newTestSpawner(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Spawn(ctx, ports.SpawnOptions{}); err == nil {
		t.Error("Spawn with cancelled context succeeded")
	}
}

func TestSpawner_InvalidShell(t *testing.T) {
	s := newTestSpawner(t, Options{Shell: "/nonexistent/shell/binary"})
	if _, err := s.Spawn(context.Background(), ports.SpawnOptions{}); err == nil {
		t.Error("expected error for non-existent shell")
	}
}

func TestLocalPTY_WaitReportsExitCode(t *testing.T) {
	s := newTestSpawner(t, Options{})
	p := spawn(t, s, ports.SpawnOptions{})

	done := make(chan int, 1)
	go func() {
		// Drain output so the shell never blocks on a full pty.
		_, _ = io.Copy(io.Discard, p)
	}()
	go func() {
		code, _ := p.Wait()
		done <- code
	}()

	_, _ = p.Write([]byte("exit 3\n"))
	select {
	case code := <-done:
		if code != 3 {
			t.Errorf("exit code = %d, want 3", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() timed out")
	}
}

func TestLocalPTY_KillIsIdempotent(t *testing.T) {
	s := newTestSpawner(t, Options{})
	p := spawn(t, s, ports.SpawnOptions{})
	go func() { _, _ = io.Copy(io.Discard, p) }()

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if code, _ := p.Wait(); code != -1 {
		t.Errorf("exit code after kill = %d, want -1", code)
	}
	if err := p.Kill(); err != nil {
		t.Errorf("second Kill: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLocalPTY_Resize(t *testing.T) {
	s := newTestSpawner(t, Options{})
	p := spawn(t, s, ports.SpawnOptions{Rows: 10, Cols: 40})
	if err := p.Resize(50, 200); err != nil {
		t.Errorf("Resize: %v", err)
	}
	if p.Shell() != "/bin/sh" {
		t.Errorf("Shell() = %q", p.Shell())
	}
}

func TestShellEnv(t *testing.T) {
	tests := []struct {
		shell string
		want  string
	}{
		{"/bin/bash", `PS1=\u@\h:\w\$ `},
		{"bash", "PROMPT_COMMAND="},
		{"/bin/zsh", "PROMPT=%n@%m:%~$ "},
		{"/bin/zsh", "RPROMPT="},
		{"/usr/bin/fish", "fish_greeting="},
	}
	for _, tt := range tests {
		t.Run(tt.shell+" "+tt.want, func(t *testing.T) {
			env := ShellEnv(tt.shell)
			for _, e := range env {
				if e == tt.want {
					return
				}
			}
			t.Errorf("ShellEnv(%q) = %v, missing %q", tt.shell, env, tt.want)
		})
	}
	if env := ShellEnv("powershell.exe"); len(env) != 0 {
		t.Errorf("ShellEnv(powershell) = %v, want none", env)
	}
}

func TestShellArgs(t *testing.T) {
	tests := []struct {
		shell     string
		normalize bool
		want      []string
	}{
		{"/bin/bash", false, []string{"-i"}},
		{"/bin/bash", true, []string{"--norc", "--noprofile", "-i"}},
		{"/bin/zsh", true, []string{"--no-rcs", "--no-globalrcs", "-i"}},
		{"/usr/bin/fish", true, []string{"--no-config", "-i"}},
		{"/bin/sh", true, []string{"-i"}},
		{"powershell.exe", true, []string{"-NoLogo", "-NoExit"}},
	}
	for _, tt := range tests {
		t.Run(tt.shell, func(t *testing.T) {
			got := shellArgs(tt.shell, tt.normalize)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("shellArgs(%q, %v) = %v, want %v", tt.shell, tt.normalize, got, tt.want)
			}
		})
	}
}

func TestDetectShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip()
	}
	shell := detectShell()
	if _, err := os.Stat(shell); err != nil {
		t.Errorf("detectShell() returned %q which does not exist: %v", shell, err)
	}
}
