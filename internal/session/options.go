package session

import (
	"log/slog"
	"time"

	"github.com/acolita/shellpilot/internal/config"
	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/metrics"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/prompt"
	"github.com/acolita/shellpilot/internal/security"
)

// Settings are the tunables read by sessions. They can be replaced at
// runtime with Registry.Configure; running sessions pick up the new values
// on their next use.
type Settings struct {
	CommandTimeout       time.Duration
	ConfirmationSettle   time.Duration
	ConfirmationReenable time.Duration
	CompletionDelay      time.Duration
	// StartupTimeout bounds the wait for the first shell prompt. When it
	// elapses the session is treated as ready anyway.
	StartupTimeout      time.Duration
	MaxPasswordAttempts int
	SudoGrantedDefault  bool
	ApproveCommands     bool
	Rows, Cols          int
	// OutputLimit caps the retained output of a session and of a single
	// command, in bytes.
	OutputLimit int
	// Accounts maps a server name to the identity used in credential
	// requests. The empty name is the local machine.
	Accounts map[string]Account
}

// Account identifies whose credential a session asks for.
type Account struct {
	Host string
	User string
}

// DefaultSettings returns the stock timings.
func DefaultSettings() Settings {
	return Settings{
		CommandTimeout:       5 * time.Minute,
		ConfirmationSettle:   time.Second,
		ConfirmationReenable: 2 * time.Second,
		CompletionDelay:      100 * time.Millisecond,
		StartupTimeout:       10 * time.Second,
		MaxPasswordAttempts:  3,
		Rows:                 30,
		Cols:                 80,
		OutputLimit:          1 << 20,
	}
}

// SettingsFromConfig derives Settings from a validated config.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	s.CommandTimeout = cfg.Dispatch.CommandTimeout
	s.ConfirmationSettle = cfg.Dispatch.ConfirmationSettle
	s.ConfirmationReenable = cfg.Dispatch.ConfirmationReenable
	s.CompletionDelay = cfg.Dispatch.CompletionDelay
	s.MaxPasswordAttempts = cfg.Dispatch.MaxPasswordAttempts
	s.SudoGrantedDefault = cfg.Security.SudoGrantedDefault
	s.ApproveCommands = cfg.Security.ApproveCommands
	s.Rows = cfg.Shell.Rows
	s.Cols = cfg.Shell.Cols
	s.Accounts = make(map[string]Account, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		s.Accounts[srv.Name] = Account{Host: srv.Host, User: srv.User}
	}
	return s
}

// Recorder receives the terminal traffic of sessions.
// *recording.Manager implements it.
type Recorder interface {
	StartRecording(sessionID string, width, height int) error
	RecordOutput(sessionID, data string)
	RecordInput(sessionID, data string, masked bool)
	StopRecording(sessionID string) error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSettings sets the initial settings.
func WithSettings(s Settings) RegistryOption {
	return func(r *Registry) {
		r.settings.Store(&s)
	}
}

// WithClock sets the clock used for every timer.
func WithClock(c ports.Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithClassifier replaces the default rule-based classifier.
func WithClassifier(c prompt.Classifier) RegistryOption {
	return func(r *Registry) {
		r.classifier = c
	}
}

// WithPermissionProvider sets where credentials and confirmations come
// from. Without one every request is denied.
func WithPermissionProvider(p ports.PermissionProvider) RegistryOption {
	return func(r *Registry) {
		r.provider = p
	}
}

// WithCredentialCache sets the per-session credential cache.
func WithCredentialCache(c *security.CredentialCache) RegistryOption {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithCommandFilter sets the filter applied to submitted commands.
func WithCommandFilter(f *security.CommandFilter) RegistryOption {
	return func(r *Registry) {
		r.filter = f
	}
}

// WithAuthLimiter sets the lockout applied to rejected credentials.
func WithAuthLimiter(l *security.AuthRateLimiter) RegistryOption {
	return func(r *Registry) {
		r.limiter = l
	}
}

// WithRecorder records every session's traffic.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) {
		r.recorder = rec
	}
}

// WithMetrics sets the Prometheus collector.
func WithMetrics(m *metrics.Collector) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithEventBus sets the bus notifications are published on.
func WithEventBus(b *eventbus.Bus) RegistryOption {
	return func(r *Registry) {
		r.bus = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = l
	}
}
