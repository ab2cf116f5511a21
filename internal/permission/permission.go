// Package permission implements credential and approval sources that can
// be stacked in front of an interactive dialog.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/acolita/shellpilot/internal/ports"
)

// ErrNoAnswer is returned by a provider that has nothing to say about a
// request. Chain moves on to the next provider.
var ErrNoAnswer = errors.New("no answer")

// Chain asks providers in order until one answers.
type Chain struct {
	providers []ports.PermissionProvider
	log       *slog.Logger
}

// NewChain returns a chain over providers. Nil providers are skipped.
func NewChain(log *slog.Logger, providers ...ports.PermissionProvider) *Chain {
	if log == nil {
		log = slog.Default()
	}
	c := &Chain{log: log}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// RequestCredential returns the first non-empty secret.
func (c *Chain) RequestCredential(ctx context.Context, req ports.CredentialRequest) (string, error) {
	for i, p := range c.providers {
		secret, err := p.RequestCredential(ctx, req)
		if errors.Is(err, ErrNoAnswer) || (err == nil && secret == "") {
			continue
		}
		if err != nil {
			return "", err
		}
		c.log.Debug("credential supplied",
			slog.String("session_id", req.SessionID),
			slog.Int("provider", i),
			slog.Int("attempt", req.Attempt),
		)
		return secret, nil
	}
	return "", fmt.Errorf("credential for %s@%s: %w", req.User, req.Host, ErrNoAnswer)
}

// RequestConfirmation returns the first definite answer.
func (c *Chain) RequestConfirmation(ctx context.Context, req ports.ConfirmationRequest) (bool, error) {
	for _, p := range c.providers {
		ok, err := p.RequestConfirmation(ctx, req)
		if errors.Is(err, ErrNoAnswer) {
			continue
		}
		return ok, err
	}
	return false, fmt.Errorf("confirm %q: %w", req.Command, ErrNoAnswer)
}

// Static answers every request the same way. Useful for unattended runs.
type Static struct {
	// Secret is returned for credential requests; empty means no answer.
	Secret string
	// Approve answers confirmation requests.
	Approve bool
}

func (s Static) RequestCredential(context.Context, ports.CredentialRequest) (string, error) {
	if s.Secret == "" {
		return "", ErrNoAnswer
	}
	return s.Secret, nil
}

func (s Static) RequestConfirmation(context.Context, ports.ConfirmationRequest) (bool, error) {
	return s.Approve, nil
}
