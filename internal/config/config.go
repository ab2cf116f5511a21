// Package config handles configuration parsing for shellpilot.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/acolita/shellpilot/internal/ports"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/shellpilot/config.yaml or ~/.config/shellpilot/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "shellpilot", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Servers         []ServerConfig  `yaml:"servers"`
	Security        SecurityConfig  `yaml:"security"`
	Logging         LoggingConfig   `yaml:"logging"`
	Recording       RecordingConfig `yaml:"recording"`
	Shell           ShellConfig     `yaml:"shell"`
	Dispatch        DispatchConfig  `yaml:"dispatch"`
	PromptDetection PromptConfig    `yaml:"prompt_detection"`
	Metrics         MetricsConfig   `yaml:"metrics"`
}

// ServerConfig defines an SSH server sessions can be opened on.
type ServerConfig struct {
	Name            string     `yaml:"name"`
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	User            string     `yaml:"user"`
	KeyPath         string     `yaml:"key_path"`
	KnownHosts      string     `yaml:"known_hosts"` // empty disables host key checking
	Auth            AuthConfig `yaml:"auth"`
	SudoPasswordEnv string     `yaml:"sudo_password_env"` // env var containing sudo password
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Type          string `yaml:"type"`           // "key" or "password"
	Path          string `yaml:"path"`           // path to key file
	PassphraseEnv string `yaml:"passphrase_env"` // env var containing key passphrase
	PasswordEnv   string `yaml:"password_env"`   // env var containing SSH password
}

// SecurityConfig defines credential and command policy.
type SecurityConfig struct {
	SudoCacheTTL        time.Duration `yaml:"sudo_cache_ttl"`
	SudoGrantedDefault  bool          `yaml:"sudo_granted_default"` // skip the pre-dispatch sudo credential request
	SudoPasswordEnv     string        `yaml:"sudo_password_env"`    // env var containing the local sudo password
	UseKeyring          bool          `yaml:"use_keyring"`          // Use OS keyring for credential storage
	ApproveCommands     bool          `yaml:"approve_commands"`     // ask before dispatching non-sudo commands
	CommandBlocklist    []string      `yaml:"command_blocklist"`    // Regex patterns for blocked commands
	CommandAllowlist    []string      `yaml:"command_allowlist"`    // If set, only these patterns allowed
	MaxAuthFailures     int           `yaml:"max_auth_failures"`    // Failed credential rounds before lockout
	AuthLockoutDuration time.Duration `yaml:"auth_lockout_duration"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines session recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // directory to store recordings
	Keep    int    `yaml:"keep"` // newest recordings kept by Prune, 0 keeps all
}

// ShellConfig defines how local shells are spawned.
type ShellConfig struct {
	Path            string `yaml:"path"`             // custom shell path (overrides detection)
	NormalizePrompt bool   `yaml:"normalize_prompt"` // force a user@host:dir$ prompt
	Term            string `yaml:"term"`
	Rows            int    `yaml:"rows"`
	Cols            int    `yaml:"cols"`
}

// DispatchConfig defines command dispatch timing.
type DispatchConfig struct {
	CommandTimeout       time.Duration `yaml:"command_timeout"`
	ConfirmationSettle   time.Duration `yaml:"confirmation_settle"`
	ConfirmationReenable time.Duration `yaml:"confirmation_reenable"`
	CompletionDelay      time.Duration `yaml:"completion_delay"`
	MaxPasswordAttempts  int           `yaml:"max_password_attempts"`
}

// PromptConfig defines prompt detection settings.
type PromptConfig struct {
	Identity          string          `yaml:"identity"` // literal prompt text that marks completion
	CompletionMarkers []string        `yaml:"completion_markers"`
	CustomPatterns    []PatternConfig `yaml:"custom_patterns"`
}

// PatternConfig defines a custom prompt pattern.
type PatternConfig struct {
	Name     string `yaml:"name"`
	Regex    string `yaml:"regex"`
	Type     string `yaml:"type"`     // "password", "confirmation", "shell"
	Response string `yaml:"response"` // confirmation reply override
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // listen address, empty disables the endpoint
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Security: SecurityConfig{
			SudoCacheTTL:        5 * time.Minute,
			MaxAuthFailures:     3,
			AuthLockoutDuration: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Recording: RecordingConfig{
			Keep: 50,
		},
		Shell: ShellConfig{
			NormalizePrompt: true,
			Term:            "xterm-color",
			Rows:            30,
			Cols:            80,
		},
		Dispatch: DispatchConfig{
			CommandTimeout:       5 * time.Minute,
			ConfirmationSettle:   time.Second,
			ConfirmationReenable: 2 * time.Second,
			CompletionDelay:      100 * time.Millisecond,
			MaxPasswordAttempts:  3,
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults.
// A missing file yields the defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate fills zero values with defaults and rejects settings that
// cannot work.
func (c *Config) Validate() error {
	d := DefaultConfig()

	if c.Dispatch.CommandTimeout <= 0 {
		c.Dispatch.CommandTimeout = d.Dispatch.CommandTimeout
	}
	if c.Dispatch.MaxPasswordAttempts <= 0 {
		c.Dispatch.MaxPasswordAttempts = d.Dispatch.MaxPasswordAttempts
	}
	if c.Dispatch.ConfirmationSettle < 0 || c.Dispatch.ConfirmationReenable < 0 || c.Dispatch.CompletionDelay < 0 {
		return errors.New("dispatch: delays must not be negative")
	}
	if c.Shell.Rows <= 0 {
		c.Shell.Rows = d.Shell.Rows
	}
	if c.Shell.Cols <= 0 {
		c.Shell.Cols = d.Shell.Cols
	}
	if c.Shell.Term == "" {
		c.Shell.Term = d.Shell.Term
	}
	if c.Security.SudoCacheTTL <= 0 {
		c.Security.SudoCacheTTL = d.Security.SudoCacheTTL
	}
	if c.Recording.Enabled && c.Recording.Path == "" {
		return errors.New("recording: path is required when enabled")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" || s.Host == "" {
			return fmt.Errorf("servers[%d]: name and host are required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("servers[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Port == 0 {
			c.Servers[i].Port = 22
		}
	}

	for i, p := range c.PromptDetection.CustomPatterns {
		if p.Regex == "" {
			return fmt.Errorf("prompt_detection.custom_patterns[%d]: regex is required", i)
		}
	}

	return nil
}

// Server returns the server with the given name.
func (c *Config) Server(name string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		if err := fsys[0].MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		return fsys[0].WriteFile(path, data, 0644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
