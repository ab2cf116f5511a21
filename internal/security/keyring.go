package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name of every shellpilot keyring entry.
const KeyringService = "shellpilot"

// ErrKeyringUnavailable is returned when the OS keyring cannot be used.
var ErrKeyringUnavailable = errors.New("keyring not available")

const (
	keySudoFmt          = "sudo:%s@%s"
	keySSHPassphraseFmt = "ssh-passphrase:%s"
	probeKey            = "__shellpilot_probe__"
)

// KeyringStore keeps credentials in the OS keyring (macOS Keychain, Secret
// Service, Windows Credential Manager).
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
}

// NewKeyringStore probes the keyring and returns a store that is disabled
// when the probe fails.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{enabled: true}
	if err := keyring.Set(KeyringService, probeKey, "probe"); err != nil {
		slog.Debug("keyring not available",
			slog.String("error", err.Error()),
		)
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probeKey)
	return ks
}

// IsEnabled reports whether the keyring is used.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled turns keyring use on or off.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

// SudoPassword returns the stored sudo password for user@host, or nil when
// none is stored.
func (ks *KeyringStore) SudoPassword(host, user string) ([]byte, error) {
	return ks.get(fmt.Sprintf(keySudoFmt, user, host))
}

// StoreSudoPassword saves the sudo password for user@host.
func (ks *KeyringStore) StoreSudoPassword(host, user string, password []byte) error {
	return ks.set(fmt.Sprintf(keySudoFmt, user, host), password)
}

// DeleteSudoPassword removes the sudo password for user@host.
func (ks *KeyringStore) DeleteSudoPassword(host, user string) error {
	return ks.delete(fmt.Sprintf(keySudoFmt, user, host))
}

// SSHPassphrase returns the stored passphrase for a private key file.
func (ks *KeyringStore) SSHPassphrase(keyPath string) ([]byte, error) {
	return ks.get(fmt.Sprintf(keySSHPassphraseFmt, keyPath))
}

// StoreSSHPassphrase saves the passphrase for a private key file.
func (ks *KeyringStore) StoreSSHPassphrase(keyPath string, passphrase []byte) error {
	return ks.set(fmt.Sprintf(keySSHPassphraseFmt, keyPath), passphrase)
}

func (ks *KeyringStore) get(key string) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, ErrKeyringUnavailable
	}
	encoded, err := keyring.Get(KeyringService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("keyring get %s: %w", key, err)
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyring decode %s: %w", key, err)
	}
	return secret, nil
}

func (ks *KeyringStore) set(key string, secret []byte) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	if err := keyring.Set(KeyringService, key, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

func (ks *KeyringStore) delete(key string) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	if err := keyring.Delete(KeyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}
