package permission

import (
	"context"
	"os"
	"strings"

	"github.com/acolita/shellpilot/internal/config"
	"github.com/acolita/shellpilot/internal/ports"
)

// Env reads sudo passwords from environment variables. Only first attempts
// are answered: a rejected value would be rejected again.
type Env struct {
	// vars maps a host to the variable holding its password. The empty
	// host applies to any host without its own entry.
	vars map[string]string
}

// NewEnv builds an Env source from the configured variable names.
func NewEnv(cfg *config.Config) *Env {
	e := &Env{vars: make(map[string]string)}
	if cfg == nil {
		return e
	}
	if v := strings.TrimSpace(cfg.Security.SudoPasswordEnv); v != "" {
		e.vars[""] = v
	}
	for _, srv := range cfg.Servers {
		if srv.SudoPasswordEnv == "" {
			continue
		}
		e.vars[srv.Host] = srv.SudoPasswordEnv
		if srv.Name != "" {
			e.vars[srv.Name] = srv.SudoPasswordEnv
		}
	}
	return e
}

func (e *Env) RequestCredential(_ context.Context, req ports.CredentialRequest) (string, error) {
	if req.Attempt > 1 {
		return "", ErrNoAnswer
	}
	name, ok := e.vars[req.Host]
	if !ok {
		name, ok = e.vars[""]
	}
	if !ok {
		return "", ErrNoAnswer
	}
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", ErrNoAnswer
}

func (e *Env) RequestConfirmation(context.Context, ports.ConfirmationRequest) (bool, error) {
	return false, ErrNoAnswer
}
