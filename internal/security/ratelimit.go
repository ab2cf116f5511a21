package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/acolita/shellpilot/internal/adapters/realclock"
	"github.com/acolita/shellpilot/internal/ports"
)

// DefaultMaxAuthFailures is the number of failures before lockout.
const DefaultMaxAuthFailures = 3

// DefaultAuthLockoutDuration is how long a lockout lasts.
const DefaultAuthLockoutDuration = 5 * time.Minute

// AuthRateLimiter counts rejected credentials per user@host and locks out
// further credential requests once the limit is reached.
type AuthRateLimiter struct {
	mu              sync.Mutex
	failures        map[string]*authFailure
	maxFailures     int
	lockoutDuration time.Duration
	clock           ports.Clock
}

type authFailure struct {
	count     int
	firstFail time.Time
	lockedAt  time.Time
}

// AuthRateLimiterOption configures an AuthRateLimiter.
type AuthRateLimiterOption func(*AuthRateLimiter)

// WithLimiterClock sets the clock used for lockout windows.
func WithLimiterClock(clock ports.Clock) AuthRateLimiterOption {
	return func(r *AuthRateLimiter) {
		r.clock = clock
	}
}

// NewAuthRateLimiter creates a limiter. Non-positive arguments select the
// defaults.
func NewAuthRateLimiter(maxFailures int, lockoutDuration time.Duration, opts ...AuthRateLimiterOption) *AuthRateLimiter {
	r := &AuthRateLimiter{
		failures: make(map[string]*authFailure),
		clock:    realclock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Configure(maxFailures, lockoutDuration)
	return r
}

// Configure changes the limits. Existing counters are kept.
func (r *AuthRateLimiter) Configure(maxFailures int, lockoutDuration time.Duration) {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultAuthLockoutDuration
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxFailures = maxFailures
	r.lockoutDuration = lockoutDuration
}

func limiterKey(host, user string) string {
	return fmt.Sprintf("%s@%s", user, host)
}

// IsLocked reports whether user@host is locked out and for how much longer.
func (r *AuthRateLimiter) IsLocked(host, user string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.failures[limiterKey(host, user)]
	if !ok || f.lockedAt.IsZero() {
		return false, 0
	}
	elapsed := r.clock.Now().Sub(f.lockedAt)
	if elapsed >= r.lockoutDuration {
		return false, 0
	}
	return true, r.lockoutDuration - elapsed
}

// RecordFailure counts a rejected credential.
func (r *AuthRateLimiter) RecordFailure(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	k := limiterKey(host, user)
	f, ok := r.failures[k]
	if !ok {
		f = &authFailure{firstFail: now}
		r.failures[k] = f
	}
	if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
		*f = authFailure{firstFail: now}
	}

	f.count++
	if f.count >= r.maxFailures && f.lockedAt.IsZero() {
		f.lockedAt = now
	}
}

// RecordSuccess forgets the failures of user@host.
func (r *AuthRateLimiter) RecordSuccess(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, limiterKey(host, user))
}

// Cleanup drops expired lockouts and stale counters.
func (r *AuthRateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for k, f := range r.failures {
		if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
			delete(r.failures, k)
			continue
		}
		if now.Sub(f.firstFail) >= 2*r.lockoutDuration {
			delete(r.failures, k)
		}
	}
}
