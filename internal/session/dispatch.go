package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/sudo"
)

// Submit sends text to the shell. When input is disabled and force is
// false the command is queued and written once every earlier command
// resolved. force writes immediately regardless of input state.
//
// Submit returns an error only when nothing was queued or written. Failures
// after that point, including a refused sudo credential, resolve the
// returned Future.
func (s *Session) Submit(ctx context.Context, text string, force bool) (*Future, error) {
	f := newFuture(s.ID, text)

	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", s.ID, ErrSessionNotRunning)
	}
	if !s.inputEnabled && !force {
		f.queued = true
		s.pending = append(s.pending, f)
		depth := len(s.pending)
		s.mu.Unlock()

		s.reg.metrics.CommandQueued()
		s.log.Debug("command queued", slog.Int("depth", depth))
		s.publish(eventbus.Event{Type: eventbus.EventCommandQueued, Command: text})
		return f, nil
	}
	s.inputEnabled = false
	s.dispatching = true
	s.mu.Unlock()

	s.dispatch(ctx, f)
	return f, nil
}

// dispatch writes one command. The caller must have set s.dispatching.
func (s *Session) dispatch(ctx context.Context, f *Future) {
	st := s.reg.Settings()
	hasSudo := sudo.HasSudo(SplitLines(f.command))

	if st.ApproveCommands && !hasSudo {
		if err := s.approve(ctx, f.command); err != nil {
			s.abort(f, err)
			return
		}
	}

	s.mu.Lock()
	granted := s.sudoGranted
	s.mu.Unlock()
	if hasSudo && !granted {
		if err := s.preflight(ctx, f.command); err != nil {
			s.abort(f, err)
			return
		}
	}

	s.mu.Lock()
	if s.status != StatusRunning {
		code := s.exitCode
		s.dispatching = false
		s.mu.Unlock()
		f.complete(Result{Outcome: OutcomeExited, ExitCode: code}, &ExitError{Code: code})
		return
	}
	w := &waiter{future: f, started: s.reg.clock.Now()}
	s.current = w
	s.dispatching = false
	s.expecting = true
	s.commandComplete = false
	s.inputEnabled = false
	s.buffer.Reset()
	s.lastCommand = f.command
	w.timer = s.reg.clock.AfterFunc(st.CommandTimeout, func() { s.onTimeout(w) })
	s.mu.Unlock()

	s.publish(eventbus.Event{Type: eventbus.EventCommandDispatched, Command: f.command})
	s.log.Debug("dispatching command", slog.String("command", f.command))

	line := f.command + "\r\n"
	if s.reg.recorder != nil {
		s.reg.recorder.RecordInput(s.ID, line, false)
	}
	if err := s.write(line); err != nil {
		s.mu.Lock()
		s.expecting = false
		s.mu.Unlock()
		s.resolve(w, Result{Outcome: OutcomeFailed, ExitCode: -1}, fmt.Errorf("write command: %w", err))
		s.becomeIdle()
	}
}

// preflight obtains a sudo credential before a sudo command is written.
func (s *Session) preflight(ctx context.Context, command string) error {
	secret, err := s.credential(ctx, 0, command, "command uses sudo")
	if err != nil {
		return err
	}
	if s.reg.cache != nil {
		s.reg.cache.Set(s.ID, []byte(secret))
	}
	s.mu.Lock()
	s.sudoGranted = true
	s.mu.Unlock()
	return nil
}

func (s *Session) approve(ctx context.Context, command string) error {
	if s.reg.provider == nil {
		return fmt.Errorf("approve %q: %w", command, ErrPermissionDenied)
	}
	ok, err := s.reg.provider.RequestConfirmation(ctx, ports.ConfirmationRequest{
		SessionID: s.ID,
		Command:   command,
		Reason:    "command approval required",
	})
	if err != nil {
		return fmt.Errorf("approve %q: %w: %v", command, ErrPermissionDenied, err)
	}
	if !ok {
		return fmt.Errorf("approve %q: %w", command, ErrPermissionDenied)
	}
	return nil
}

// abort resolves a command that was never written and moves on.
func (s *Session) abort(f *Future, err error) {
	s.mu.Lock()
	s.dispatching = false
	s.mu.Unlock()

	res := Result{Outcome: OutcomeFailed, ExitCode: -1}
	if errors.Is(err, ErrProcessExited) {
		res.Outcome = OutcomeExited
	}
	f.complete(res, err)
	s.reg.metrics.CommandResolved(string(res.Outcome), 0)
	s.publish(eventbus.Event{Type: eventbus.EventCommandFailed, Command: f.command, Error: err.Error()})
	s.log.Info("command not dispatched",
		slog.String("command", f.command),
		slog.String("error", err.Error()),
	)
	s.becomeIdle()
}

// becomeIdle is called whenever no command may be in flight any more. It
// writes the next queued command, or enables input when the queue is empty.
// Input never becomes enabled while commands are queued.
func (s *Session) becomeIdle() {
	s.mu.Lock()
	if s.status != StatusRunning || !s.ready || s.expecting || s.dispatching || s.waitingConfirm {
		s.mu.Unlock()
		return
	}
	if len(s.pending) == 0 {
		s.inputEnabled = true
		s.mu.Unlock()
		return
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.inputEnabled = false
	s.dispatching = true
	s.mu.Unlock()

	s.dispatch(s.ctx, next)
}
