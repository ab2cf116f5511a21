package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/sudo"
)

// passwordPromptArmed reports whether a password prompt should be answered:
// either none is outstanding or the last answer was rejected.
func (s *Session) passwordPromptArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.waitingPassword || s.retryArmed
}

// noteSudoFailure remembers the latest sudo failure so the command result
// can say what went wrong.
func (s *Session) noteSudoFailure(kind sudo.ErrorType) {
	s.mu.Lock()
	s.sudoFailure = kind
	s.mu.Unlock()
	s.log.Debug("sudo failure", slog.String("kind", kind.String()))
}

func (s *Session) onPasswordError() {
	s.mu.Lock()
	s.waitingPassword = true
	s.retryArmed = true
	s.mu.Unlock()

	s.log.Info("password rejected")
	if s.reg.cache != nil {
		s.reg.cache.Clear(s.ID)
	}
	if s.reg.limiter != nil {
		s.reg.limiter.RecordFailure(s.account.Host, s.account.User)
	}
}

// onPasswordGaveUp handles sudo giving up after its own retry limit. The
// shell prompt follows, so the command resolves as completed.
func (s *Session) onPasswordGaveUp() {
	s.mu.Lock()
	s.waitingPassword = false
	s.retryArmed = false
	s.mu.Unlock()

	s.log.Info("sudo gave up after rejected passwords")
	if s.reg.cache != nil {
		s.reg.cache.Clear(s.ID)
	}
	if s.reg.limiter != nil {
		s.reg.limiter.RecordFailure(s.account.Host, s.account.User)
	}
}

// onPasswordPrompt answers a password prompt. It runs on the read loop, so
// no further output is classified until the answer is written.
func (s *Session) onPasswordPrompt(chunk string) {
	s.mu.Lock()
	s.waitingPassword = true
	s.retryArmed = false
	s.passwordAttempts++
	s.sudoFailure = sudo.ErrorNone
	attempt := s.passwordAttempts
	command := s.lastCommand
	s.mu.Unlock()

	if limit := s.reg.Settings().MaxPasswordAttempts; attempt > limit {
		s.log.Warn("password retries exceeded, killing shell", slog.Int("attempts", attempt-1))
		s.fail(fmt.Errorf("%s after %d attempts: %w: %s",
			s.ID, attempt-1, ErrPasswordRetriesExceeded, sudo.SuggestFix(sudo.ErrorWrongPassword)))
		s.killQuietly()
		return
	}

	s.publish(eventbus.Event{Type: eventbus.EventPasswordRequested, Command: command})
	secret, err := s.credential(s.ctx, attempt, command, "shell asked for a password")
	if err != nil {
		s.log.Warn("no password available, killing shell", slog.String("error", err.Error()))
		s.fail(err)
		s.killQuietly()
		return
	}

	if s.reg.recorder != nil {
		s.reg.recorder.RecordInput(s.ID, secret, true)
	}
	if err := s.write(secret + "\r\n"); err != nil {
		s.log.Warn("write password", slog.String("error", err.Error()))
		return
	}
	if s.reg.cache != nil {
		s.reg.cache.Set(s.ID, []byte(secret))
	}

	s.mu.Lock()
	s.waitingPassword = false
	s.mu.Unlock()
}

// credential returns a live cached secret or asks the permission provider.
// Attempt 0 is a request made before any prompt appeared.
func (s *Session) credential(ctx context.Context, attempt int, command, reason string) (string, error) {
	if s.reg.cache != nil {
		if cached := s.reg.cache.Get(s.ID); cached != nil {
			s.log.Debug("using cached credential", slog.Int("attempt", attempt))
			return string(cached), nil
		}
	}

	if s.reg.limiter != nil {
		if locked, remaining := s.reg.limiter.IsLocked(s.account.Host, s.account.User); locked {
			s.reg.metrics.CredentialRequested("locked")
			return "", fmt.Errorf("%s@%s locked out for %s: %w", s.account.User, s.account.Host, remaining, ErrPermissionDenied)
		}
	}

	if s.reg.provider == nil {
		s.reg.metrics.CredentialRequested("denied")
		return "", fmt.Errorf("no permission provider: %w", ErrPermissionDenied)
	}

	secret, err := s.reg.provider.RequestCredential(ctx, ports.CredentialRequest{
		SessionID: s.ID,
		Host:      s.account.Host,
		User:      s.account.User,
		Command:   command,
		Attempt:   attempt,
		Reason:    reason,
	})
	if err != nil {
		s.reg.metrics.CredentialRequested("error")
		return "", fmt.Errorf("request credential: %w: %v", ErrPermissionDenied, err)
	}
	if secret == "" {
		s.reg.metrics.CredentialRequested("denied")
		return "", fmt.Errorf("empty credential: %w", ErrPermissionDenied)
	}
	s.reg.metrics.CredentialRequested("granted")
	return secret, nil
}

func (s *Session) killQuietly() {
	if err := s.shell.Kill(); err != nil {
		s.log.Debug("kill shell", slog.String("error", err.Error()))
	}
}
