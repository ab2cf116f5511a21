package ssh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/shellpilot/internal/config"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/testing/fakes/fakepty"
	"github.com/acolita/shellpilot/internal/testing/fakes/fakesshdialer"
	"github.com/acolita/shellpilot/internal/testing/mockssh"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func mockServer(t *testing.T) (*mockssh.Server, config.ServerConfig) {
	t.Helper()
	srv, err := mockssh.New(mockssh.WithUser("deploy", "hunter2"))
	if err != nil {
		t.Fatalf("mockssh.New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	port, _ := strconv.Atoi(srv.Port())
	t.Setenv("SP_TEST_SSH_PASSWORD", "hunter2")
	return srv, config.ServerConfig{
		Name: "mock",
		Host: srv.Host(),
		Port: port,
		User: "deploy",
		Auth: config.AuthConfig{Type: "password", PasswordEnv: "SP_TEST_SSH_PASSWORD"},
	}
}

// readUntil reads from r until the output contains want or timeout expires.
func readUntil(r io.Reader, want string, timeout time.Duration) (string, bool) {
	chunks := make(chan string, 64)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunks <- string(buf[:n])
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
			if ok {
				sb.WriteString(c)
			}
			if strings.Contains(sb.String(), want) {
				return sb.String(), true
			}
			if !ok {
				return sb.String(), false
			}
		case <-deadline:
			return sb.String(), false
		}
	}
}

func TestSpawner_RemoteShell(t *testing.T) {
	isolateHome(t)
	_, srv := mockServer(t)
	s := NewSpawner([]config.ServerConfig{srv}, WithLogger(discard))

	sh, err := s.Spawn(context.Background(), ports.SpawnOptions{SessionID: "r1", Server: "mock", Rows: 30, Cols: 80})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer sh.Close()

	if _, err := sh.Write([]byte("echo remote_42\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out, ok := readUntil(sh, "remote_42", 5*time.Second); !ok {
		t.Fatalf("command output missing, got %q", out)
	}

	done := make(chan int, 1)
	go func() {
		code, _ := sh.Wait()
		done <- code
	}()
	_, _ = sh.Write([]byte("exit 4\n"))
	select {
	case code := <-done:
		if code != 4 {
			t.Errorf("exit code = %d, want 4", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait timed out")
	}
}

func TestSpawner_NormalizePromptWritesInit(t *testing.T) {
	isolateHome(t)
	_, srv := mockServer(t)
	s := NewSpawner([]config.ServerConfig{srv}, WithLogger(discard), WithNormalizePrompt(true))

	sh, err := s.Spawn(context.Background(), ports.SpawnOptions{Server: "mock"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer sh.Close()

	if out, ok := readUntil(sh, "export PS1=", 5*time.Second); !ok {
		t.Errorf("prompt init not echoed, got %q", out)
	}
}

func TestSpawner_KillEndsShell(t *testing.T) {
	isolateHome(t)
	_, srv := mockServer(t)
	s := NewSpawner([]config.ServerConfig{srv}, WithLogger(discard))

	sh, err := s.Spawn(context.Background(), ports.SpawnOptions{Server: "mock"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	go func() { _, _ = io.Copy(io.Discard, sh) }()

	done := make(chan struct{})
	go func() {
		_, _ = sh.Wait()
		close(done)
	}()
	if err := sh.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Kill")
	}
	if err := sh.Close(); err != nil {
		t.Errorf("Close after Kill: %v", err)
	}
}

func TestSpawner_WrongPassword(t *testing.T) {
	isolateHome(t)
	_, srv := mockServer(t)
	t.Setenv("SP_TEST_SSH_PASSWORD", "wrong")
	s := NewSpawner([]config.ServerConfig{srv}, WithLogger(discard))

	if _, err := s.Spawn(context.Background(), ports.SpawnOptions{Server: "mock"}); err == nil {
		t.Fatal("Spawn succeeded with a wrong password")
	}
}

func TestSpawner_UnknownServer(t *testing.T) {
	isolateHome(t)
	s := NewSpawner(nil, WithLogger(discard))
	if _, err := s.Spawn(context.Background(), ports.SpawnOptions{Server: "nope"}); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("error = %v, want ErrUnknownServer", err)
	}

	s.SetServers([]config.ServerConfig{{Name: "nope", Host: "h", User: "u", Auth: config.AuthConfig{Type: "password"}}})
	if _, err := s.Spawn(context.Background(), ports.SpawnOptions{Server: "nope"}); errors.Is(err, ErrUnknownServer) {
		t.Error("server still unknown after SetServers")
	}
}

func TestSpawner_LocalDelegation(t *testing.T) {
	local := fakepty.NewSpawner()
	s := NewSpawner(nil, WithLocal(local), WithLogger(discard))

	if _, err := s.Spawn(context.Background(), ports.SpawnOptions{SessionID: "l1"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if opts := local.Options(); len(opts) != 1 || opts[0].SessionID != "l1" {
		t.Errorf("local spawner options = %+v", opts)
	}

	if _, err := NewSpawner(nil).Spawn(context.Background(), ports.SpawnOptions{}); err == nil {
		t.Error("Spawn without a local spawner succeeded")
	}
}

func TestSpawner_DialError(t *testing.T) {
	isolateHome(t)
	t.Setenv("SP_TEST_SSH_PASSWORD", "pw")
	dialer := fakesshdialer.New()
	boom := errors.New("connection refused")
	dialer.SetError(boom)

	srv := config.ServerConfig{
		Name: "web", Host: "10.0.0.9", Port: 2222, User: "deploy",
		Auth: config.AuthConfig{Type: "password", PasswordEnv: "SP_TEST_SSH_PASSWORD"},
	}
	s := NewSpawner([]config.ServerConfig{srv}, WithDialer(dialer), WithLogger(discard))

	if _, err := s.Spawn(context.Background(), ports.SpawnOptions{Server: "web"}); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	calls := dialer.Calls()
	if len(calls) != 1 || calls[0].Addr != "10.0.0.9:2222" || calls[0].Config.User != "deploy" {
		t.Errorf("dial calls = %+v", calls)
	}
}

func TestSpawner_ContextCancelled(t *testing.T) {
	isolateHome(t)
	t.Setenv("SP_TEST_SSH_PASSWORD", "pw")
	release := make(chan struct{})
	defer close(release)

	tests := []struct {
		name   string
		script func(d *fakesshdialer.Dialer)
	}{
		{"dialer honors ctx", func(d *fakesshdialer.Dialer) { d.BlockUntilCancelled() }},
		{"dialer ignores ctx", func(d *fakesshdialer.Dialer) {
			d.SetDialFunc(func(context.Context, string, string, *ssh.ClientConfig) (*ssh.Client, error) {
				<-release
				return nil, errors.New("too late")
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := fakesshdialer.New()
			tt.script(dialer)
			srv := config.ServerConfig{
				Name: "slow", Host: "10.0.0.10", User: "deploy",
				Auth: config.AuthConfig{Type: "password", PasswordEnv: "SP_TEST_SSH_PASSWORD"},
			}
			s := NewSpawner([]config.ServerConfig{srv}, WithDialer(dialer), WithLogger(discard))

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if _, err := s.Spawn(ctx, ports.SpawnOptions{Server: "slow"}); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("error = %v, want deadline exceeded", err)
			}
		})
	}
}
