// shellpilot drives interactive shells unattended: it answers sudo password
// and yes/no prompts and queues commands per session. It runs as an MCP
// server on stdio or as an interactive console.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/acolita/shellpilot/internal/adapters/realdialog"
	"github.com/acolita/shellpilot/internal/config"
	"github.com/acolita/shellpilot/internal/console"
	"github.com/acolita/shellpilot/internal/logging"
	"github.com/acolita/shellpilot/internal/mcp"
)

// Version information - set at build time.
var (
	Version   = mcp.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath  string
		mode        string
		metricsAddr string
		showVersion bool
		debug       bool
		initConfig  bool
		formHelper  bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (default: "+config.DefaultConfigPath()+")")
	flag.StringVar(&mode, "mode", modeMCP, "Run mode: 'mcp' (stdio server) or 'console' (interactive REPL)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&initConfig, "init-config", false, "Write a default configuration file and exit")
	flag.BoolVar(&formHelper, "form", false, "Internal: run a credential form in this terminal")
	flag.Parse()

	if formHelper {
		if err := realdialog.RunFormHelper(); err != nil {
			fmt.Fprintf(os.Stderr, "form: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("shellpilot version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	if initConfig {
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(os.Stderr, "Config already exists: %s\n", configPath)
			os.Exit(1)
		}
		if err := config.Save(config.DefaultConfig(), configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", configPath)
		os.Exit(0)
	}

	if mode != modeMCP && mode != modeConsole {
		fmt.Fprintf(os.Stderr, "Unknown mode %q (want %s or %s)\n", mode, modeMCP, modeConsole)
		os.Exit(2)
	}

	if err := run(configPath, mode, metricsAddr, debug); err != nil {
		slog.Error("shellpilot failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, mode, metricsAddr string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	overrides := func(c *config.Config) {
		if debug {
			c.Logging.Level = "debug"
		}
		if metricsAddr != "" {
			c.Metrics.Addr = metricsAddr
		}
	}
	overrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Logs go to stderr in both modes; stdout carries the MCP protocol.
	level := logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)
	log := slog.Default()

	log.Info("starting shellpilot",
		slog.String("version", Version),
		slog.String("mode", mode),
		slog.String("config", configPath),
	)

	stdinIsTerminal := term.IsTerminal(int(os.Stdin.Fd()))
	a, err := newApp(cfg, log, level, appOptions{
		interactive: interactiveProvider(mode, stdinIsTerminal),
	})
	if err != nil {
		return err
	}
	defer a.close(shutdownTimeout)

	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}

	if _, err := os.Stat(configPath); err == nil {
		watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
			overrides(newCfg)
			if err := newCfg.Validate(); err != nil {
				log.Warn("ignoring config change", slog.String("error", err.Error()))
				return
			}
			a.apply(newCfg)
		})
		if err != nil {
			log.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		} else {
			defer watcher.Close()
			log.Info("config hot-reload enabled", slog.String("path", configPath))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	switch mode {
	case modeConsole:
		opts := []console.Option{console.WithLogger(log)}
		if stdinIsTerminal {
			opts = append(opts, console.WithTerminal(int(os.Stdin.Fd())))
		}
		con := console.New(a.registry, os.Stdin, os.Stdout, opts...)
		go func() { errCh <- con.Run(ctx) }()
	default:
		srv := mcp.NewServer(a.registry,
			mcp.WithRecordings(a.recorder),
			mcp.WithLogger(log),
		)
		go func() { errCh <- srv.Run() }()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("received shutdown signal")
		return nil
	}
}
