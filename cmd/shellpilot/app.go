package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/acolita/shellpilot/internal/adapters/realclock"
	"github.com/acolita/shellpilot/internal/adapters/realdialog"
	"github.com/acolita/shellpilot/internal/config"
	"github.com/acolita/shellpilot/internal/logging"
	"github.com/acolita/shellpilot/internal/metrics"
	"github.com/acolita/shellpilot/internal/permission"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/prompt"
	"github.com/acolita/shellpilot/internal/pty"
	"github.com/acolita/shellpilot/internal/recording"
	"github.com/acolita/shellpilot/internal/security"
	"github.com/acolita/shellpilot/internal/session"
	"github.com/acolita/shellpilot/internal/ssh"
)

// Run modes.
const (
	modeMCP     = "mcp"
	modeConsole = "console"
)

// app holds every long-lived component. Nothing here is global; main
// builds one app and hands its parts to the MCP server or the console.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	level *slog.LevelVar

	registry *session.Registry
	rules    *prompt.Rules
	filter   *security.CommandFilter
	limiter  *security.AuthRateLimiter
	cache    *security.CredentialCache
	keyring  *security.KeyringStore
	spawner  *ssh.Spawner
	recorder *recording.Manager
	metrics  *metrics.Collector

	metricsServer *http.Server
}

// appOptions carries what differs between main and tests.
type appOptions struct {
	// interactive asks the user; nil disables interactive prompting.
	interactive ports.PermissionProvider
	// local overrides the local shell spawner.
	local ports.Spawner
	// keyring overrides the keyring probe.
	keyring *security.KeyringStore
	clock   ports.Clock
}

func newApp(cfg *config.Config, log *slog.Logger, level *slog.LevelVar, opts appOptions) (*app, error) {
	if opts.clock == nil {
		opts.clock = realclock.New()
	}

	promptOpts, err := promptOptions(cfg.PromptDetection)
	if err != nil {
		return nil, err
	}
	filter, err := security.NewCommandFilter(cfg.Security.CommandBlocklist, cfg.Security.CommandAllowlist)
	if err != nil {
		return nil, fmt.Errorf("command filter: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		level:   level,
		rules:   prompt.NewRules(promptOpts),
		filter:  filter,
		limiter: security.NewAuthRateLimiter(cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration, security.WithLimiterClock(opts.clock)),
		cache:   security.NewCredentialCache(cfg.Security.SudoCacheTTL, security.WithClock(opts.clock)),
		metrics: metrics.New(),
		keyring: opts.keyring,
	}
	if a.keyring == nil && cfg.Security.UseKeyring {
		a.keyring = security.NewKeyringStore()
	}

	local := opts.local
	if local == nil {
		local = pty.NewSpawner(pty.Options{
			Shell:           cfg.Shell.Path,
			Term:            cfg.Shell.Term,
			NormalizePrompt: cfg.Shell.NormalizePrompt,
			Logger:          log,
		})
	}
	a.spawner = ssh.NewSpawner(cfg.Servers,
		ssh.WithLocal(local),
		ssh.WithKeyring(a.keyring),
		ssh.WithClock(opts.clock),
		ssh.WithTerm(cfg.Shell.Term),
		ssh.WithNormalizePrompt(cfg.Shell.NormalizePrompt),
		ssh.WithLogger(log),
	)

	a.recorder = recording.NewManager(cfg.Recording.Path, cfg.Recording.Enabled,
		recording.WithClock(opts.clock),
		recording.WithKeep(cfg.Recording.Keep),
		recording.WithTerm(cfg.Shell.Term),
		recording.WithLogger(log),
	)

	regOpts := []session.RegistryOption{
		session.WithSettings(session.SettingsFromConfig(cfg)),
		session.WithClock(opts.clock),
		session.WithClassifier(a.rules),
		session.WithPermissionProvider(a.provider(opts.interactive)),
		session.WithCredentialCache(a.cache),
		session.WithCommandFilter(a.filter),
		session.WithAuthLimiter(a.limiter),
		session.WithRecorder(a.recorder),
		session.WithMetrics(a.metrics),
		session.WithLogger(log),
	}
	a.registry = session.NewRegistry(a.spawner, regOpts...)

	return a, nil
}

// provider chains the non-interactive credential sources in front of the
// interactive one. Typed passwords are remembered when the keyring is on.
func (a *app) provider(interactive ports.PermissionProvider) ports.PermissionProvider {
	providers := []ports.PermissionProvider{permission.NewEnv(a.cfg)}
	if a.keyring != nil {
		providers = append(providers, permission.NewKeyring(a.keyring, a.log))
		if interactive != nil {
			interactive = permission.NewRemember(interactive, a.keyring, a.log)
		}
	}
	if interactive != nil {
		providers = append(providers, interactive)
	}
	return permission.NewChain(a.log, providers...)
}

// interactiveProvider picks how the user is asked for passwords and
// approvals. The console asks inline; the MCP server owns stdin and stdout,
// so it opens a terminal window.
func interactiveProvider(mode string, stdinIsTerminal bool) ports.PermissionProvider {
	switch {
	case mode == modeConsole && stdinIsTerminal:
		return realdialog.New(realdialog.ModeInline, realdialog.DefaultTimeout)
	case mode == modeMCP:
		return realdialog.New(realdialog.ModeWindow, realdialog.DefaultTimeout)
	default:
		return nil
	}
}

// apply hot-reloads cfg. Running sessions keep their shell; new settings
// apply to later dispatches and new sessions.
func (a *app) apply(cfg *config.Config) {
	a.level.Set(logging.ParseLevel(cfg.Logging.Level))

	if err := a.filter.Update(cfg.Security.CommandBlocklist, cfg.Security.CommandAllowlist); err != nil {
		a.log.Warn("command filter not updated", slog.String("error", err.Error()))
	}
	if opts, err := promptOptions(cfg.PromptDetection); err != nil {
		a.log.Warn("prompt detection not updated", slog.String("error", err.Error()))
	} else {
		a.rules.Configure(opts)
	}

	a.limiter.Configure(cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration)
	a.cache.SetTTL(cfg.Security.SudoCacheTTL)
	if a.keyring != nil {
		a.keyring.SetEnabled(cfg.Security.UseKeyring)
	}
	a.spawner.SetServers(cfg.Servers)
	a.recorder.Configure(cfg.Recording.Enabled, cfg.Recording.Keep)
	a.registry.Configure(session.SettingsFromConfig(cfg))
	a.cfg = cfg

	a.log.Info("configuration hot-reloaded")
}

// serveMetrics starts the Prometheus endpoint on addr.
func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info("serving metrics", slog.String("addr", addr))
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", slog.String("error", err.Error()))
		}
	}()
}

// close kills every session and stops the metrics endpoint.
func (a *app) close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.registry.Close(ctx); err != nil {
		a.log.Warn("sessions did not exit in time", slog.String("error", err.Error()))
	}
	a.recorder.CloseAll()
	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
	}
}

// promptOptions compiles the prompt detection section.
func promptOptions(pc config.PromptConfig) (prompt.Options, error) {
	opts := prompt.Options{
		Identity:          pc.Identity,
		CompletionMarkers: pc.CompletionMarkers,
	}
	for i, p := range pc.CustomPatterns {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("custom_%d", i)
		}
		pat, err := prompt.ParsePattern(name, p.Regex, p.Type, p.Response)
		if err != nil {
			return prompt.Options{}, err
		}
		opts.Custom = append(opts.Custom, pat)
	}
	return opts, nil
}
