// Package security holds credential caching, command policy and
// authentication lockout for shellpilot.
package security

import (
	"sync"
	"time"

	"github.com/acolita/shellpilot/internal/adapters/realclock"
	"github.com/acolita/shellpilot/internal/ports"
)

// DefaultCredentialTTL is how long a cached sudo credential stays usable.
const DefaultCredentialTTL = 5 * time.Minute

type cachedSecret struct {
	data     []byte
	storedAt time.Time
}

// CredentialCache keeps one secret per session for a limited time. Secrets
// are wiped when they expire, are replaced or are cleared.
type CredentialCache struct {
	mu      sync.Mutex
	entries map[string]*cachedSecret
	ttl     time.Duration
	clock   ports.Clock
}

// CredentialCacheOption configures a CredentialCache.
type CredentialCacheOption func(*CredentialCache)

// WithClock sets the clock used for expiry.
func WithClock(clock ports.Clock) CredentialCacheOption {
	return func(c *CredentialCache) {
		c.clock = clock
	}
}

// NewCredentialCache creates a cache whose entries live for ttl.
func NewCredentialCache(ttl time.Duration, opts ...CredentialCacheOption) *CredentialCache {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	c := &CredentialCache{
		entries: make(map[string]*cachedSecret),
		ttl:     ttl,
		clock:   realclock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTTL changes the lifetime of entries, including existing ones.
func (c *CredentialCache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// Set stores secret for sessionID, wiping any previous value.
func (c *CredentialCache) Set(sessionID string, secret []byte) {
	data := make([]byte, len(secret))
	copy(data, secret)

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[sessionID]; ok {
		WipeBytes(old.data)
	}
	c.entries[sessionID] = &cachedSecret{data: data, storedAt: c.clock.Now()}
}

// Get returns a copy of the secret for sessionID, or nil when there is
// none or it expired.
func (c *CredentialCache) Get(sessionID string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(sessionID)
	if e == nil {
		return nil
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out
}

// IsValid reports whether a live secret exists for sessionID.
func (c *CredentialCache) IsValid(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live(sessionID) != nil
}

// ExpiresIn returns the remaining lifetime of the secret for sessionID.
func (c *CredentialCache) ExpiresIn(sessionID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(sessionID)
	if e == nil {
		return 0
	}
	return c.ttl - c.clock.Now().Sub(e.storedAt)
}

// Clear wipes the secret for sessionID.
func (c *CredentialCache) Clear(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop(sessionID)
}

// ClearAll wipes every secret.
func (c *CredentialCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.drop(id)
	}
}

// Cleanup wipes expired secrets.
func (c *CredentialCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.live(id)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *CredentialCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// live must be called with c.mu held. Expired entries are dropped.
func (c *CredentialCache) live(sessionID string) *cachedSecret {
	e, ok := c.entries[sessionID]
	if !ok {
		return nil
	}
	if c.clock.Now().Sub(e.storedAt) > c.ttl {
		c.drop(sessionID)
		return nil
	}
	return e
}

func (c *CredentialCache) drop(sessionID string) {
	if e, ok := c.entries[sessionID]; ok {
		WipeBytes(e.data)
		delete(c.entries, sessionID)
	}
}
