package permission

import (
	"context"
	"log/slog"

	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/security"
)

// Keyring answers credential requests from the OS keyring.
type Keyring struct {
	store *security.KeyringStore
	log   *slog.Logger
}

// NewKeyring wraps store.
func NewKeyring(store *security.KeyringStore, log *slog.Logger) *Keyring {
	if log == nil {
		log = slog.Default()
	}
	return &Keyring{store: store, log: log}
}

// RequestCredential returns the stored password on a first attempt. On a
// retry the stored password was rejected, so it is removed and the request
// falls through.
func (k *Keyring) RequestCredential(_ context.Context, req ports.CredentialRequest) (string, error) {
	if k.store == nil || !k.store.IsEnabled() {
		return "", ErrNoAnswer
	}
	if req.Attempt > 1 {
		if err := k.store.DeleteSudoPassword(req.Host, req.User); err != nil {
			k.log.Debug("drop rejected keyring password", slog.String("error", err.Error()))
		}
		return "", ErrNoAnswer
	}
	secret, err := k.store.SudoPassword(req.Host, req.User)
	if err != nil {
		k.log.Debug("keyring lookup failed", slog.String("error", err.Error()))
		return "", ErrNoAnswer
	}
	if len(secret) == 0 {
		return "", ErrNoAnswer
	}
	defer security.WipeBytes(secret)
	return string(secret), nil
}

func (k *Keyring) RequestConfirmation(context.Context, ports.ConfirmationRequest) (bool, error) {
	return false, ErrNoAnswer
}

// Remember stores secrets supplied by an interactive provider in the
// keyring for later sessions.
type Remember struct {
	next  ports.PermissionProvider
	store *security.KeyringStore
	log   *slog.Logger
}

// NewRemember wraps next.
func NewRemember(next ports.PermissionProvider, store *security.KeyringStore, log *slog.Logger) *Remember {
	if log == nil {
		log = slog.Default()
	}
	return &Remember{next: next, store: store, log: log}
}

func (r *Remember) RequestCredential(ctx context.Context, req ports.CredentialRequest) (string, error) {
	secret, err := r.next.RequestCredential(ctx, req)
	if err != nil || secret == "" {
		return secret, err
	}
	if r.store != nil && r.store.IsEnabled() {
		if err := r.store.StoreSudoPassword(req.Host, req.User, []byte(secret)); err != nil {
			r.log.Warn("store password in keyring", slog.String("error", err.Error()))
		}
	}
	return secret, nil
}

func (r *Remember) RequestConfirmation(ctx context.Context, req ports.ConfirmationRequest) (bool, error) {
	return r.next.RequestConfirmation(ctx, req)
}
