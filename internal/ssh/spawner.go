package ssh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/acolita/shellpilot/internal/config"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/security"
)

// ErrUnknownServer is returned when a session names a server that is not
// configured.
var ErrUnknownServer = errors.New("unknown server")

const remotePromptInit = " export PS1='\\u@\\h:\\w\\$ ' PROMPT_COMMAND=\n"

// Spawner opens shells on configured servers. Requests without a server
// go to the local spawner.
type Spawner struct {
	servers   atomic.Pointer[[]config.ServerConfig]
	local     ports.Spawner
	keyring   *security.KeyringStore
	dialer    ports.SSHDialer
	clock     ports.Clock
	term      string
	normalize bool
	timeout   time.Duration
	log       *slog.Logger
}

// SpawnerOption configures a Spawner.
type SpawnerOption func(*Spawner)

// WithLocal sets the spawner used when no server is named.
func WithLocal(local ports.Spawner) SpawnerOption {
	return func(s *Spawner) { s.local = local }
}

// WithKeyring enables key passphrase lookups in the OS keyring.
func WithKeyring(ks *security.KeyringStore) SpawnerOption {
	return func(s *Spawner) { s.keyring = ks }
}

// WithDialer overrides how connections are dialed.
func WithDialer(d ports.SSHDialer) SpawnerOption {
	return func(s *Spawner) { s.dialer = d }
}

// WithClock sets the clock driving keepalives.
func WithClock(c ports.Clock) SpawnerOption {
	return func(s *Spawner) { s.clock = c }
}

// WithTerm sets the TERM requested for remote terminals.
func WithTerm(term string) SpawnerOption {
	return func(s *Spawner) { s.term = term }
}

// WithNormalizePrompt installs a user@host:dir$ prompt after login.
func WithNormalizePrompt(on bool) SpawnerOption {
	return func(s *Spawner) { s.normalize = on }
}

// WithDialTimeout bounds connection setup.
func WithDialTimeout(d time.Duration) SpawnerOption {
	return func(s *Spawner) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SpawnerOption {
	return func(s *Spawner) { s.log = l }
}

// NewSpawner returns a spawner for servers.
func NewSpawner(servers []config.ServerConfig, opts ...SpawnerOption) *Spawner {
	s := &Spawner{term: "xterm-color", timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.SetServers(servers)
	return s
}

// SetServers replaces the server list. Running shells are unaffected.
func (s *Spawner) SetServers(servers []config.ServerConfig) {
	cp := append([]config.ServerConfig(nil), servers...)
	s.servers.Store(&cp)
}

func (s *Spawner) server(name string) (config.ServerConfig, bool) {
	for _, srv := range *s.servers.Load() {
		if srv.Name == name {
			return srv, true
		}
	}
	return config.ServerConfig{}, false
}

// Spawn opens a shell on opts.Server, or a local shell when it is empty.
func (s *Spawner) Spawn(ctx context.Context, opts ports.SpawnOptions) (ports.Shell, error) {
	if opts.Server == "" {
		if s.local == nil {
			return nil, fmt.Errorf("no local spawner configured")
		}
		return s.local.Spawn(ctx, opts)
	}

	srv, ok := s.server(opts.Server)
	if !ok {
		return nil, fmt.Errorf("%q: %w", opts.Server, ErrUnknownServer)
	}

	methods, err := BuildAuthMethods(s.authConfig(srv))
	if err != nil {
		return nil, fmt.Errorf("%s auth: %w", srv.Name, err)
	}
	hostKey, err := BuildHostKeyCallback(srv.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("%s host key: %w", srv.Name, err)
	}
	if srv.KnownHosts == "" {
		s.log.Warn("host key verification disabled", slog.String("server", srv.Name))
	}

	client, err := NewClient(ClientOptions{
		Host:            srv.Host,
		Port:            srv.Port,
		User:            srv.User,
		AuthMethods:     methods,
		HostKeyCallback: hostKey,
		Timeout:         s.timeout,
		Clock:           s.clock,
		Dialer:          s.dialer,
		Logger:          s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", srv.Name, err)
	}

	shellOpts := ShellOptions{Term: s.term, Rows: opts.Rows, Cols: opts.Cols}
	if s.normalize {
		shellOpts.Init = remotePromptInit
	}

	type started struct {
		sh  *Shell
		err error
	}
	done := make(chan started, 1)
	go func() {
		sh, err := StartShell(ctx, client, shellOpts)
		done <- started{sh, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%s: %w", srv.Name, r.err)
		}
		s.log.Info("remote shell started",
			slog.String("session_id", opts.SessionID),
			slog.String("server", srv.Name),
			slog.String("addr", client.Addr()),
		)
		return r.sh, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.sh != nil {
				_ = r.sh.Close()
			} else {
				_ = client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// authConfig resolves secrets for srv from the environment and keyring.
func (s *Spawner) authConfig(srv config.ServerConfig) AuthConfig {
	keyPath := srv.Auth.Path
	if keyPath == "" {
		keyPath = srv.KeyPath
	}
	cfg := AuthConfig{
		KeyPath:  keyPath,
		UseAgent: srv.Auth.Type != "password",
		Host:     srv.Host,
	}
	if srv.Auth.PasswordEnv != "" {
		cfg.Password = os.Getenv(srv.Auth.PasswordEnv)
	}
	if srv.Auth.PassphraseEnv != "" {
		cfg.KeyPassphrase = os.Getenv(srv.Auth.PassphraseEnv)
	}
	if cfg.KeyPassphrase == "" && keyPath != "" && s.keyring != nil && s.keyring.IsEnabled() {
		if pp, err := s.keyring.SSHPassphrase(keyPath); err == nil && len(pp) > 0 {
			cfg.KeyPassphrase = string(pp)
			security.WipeBytes(pp)
		}
	}
	return cfg
}

var _ ports.Spawner = (*Spawner)(nil)
