package session

import (
	"log/slog"
	"time"

	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/ports"
)

// waiter tracks one dispatched command until it resolves as completed,
// timed out or process exited.
type waiter struct {
	future   *Future
	started  time.Time
	timer    ports.Timer
	resolved bool
}

// resolve settles w once. It returns false when w had already resolved.
func (s *Session) resolve(w *waiter, res Result, err error) bool {
	s.mu.Lock()
	if w.resolved {
		s.mu.Unlock()
		return false
	}
	w.resolved = true
	if w.timer != nil {
		w.timer.Stop()
	}
	res.Duration = s.reg.clock.Now().Sub(w.started)
	entry := HistoryEntry{
		Command:   w.future.command,
		Outcome:   res.Outcome,
		ExitCode:  res.ExitCode,
		StartedAt: w.started,
		Duration:  res.Duration,
	}
	if err != nil {
		entry.Error = err.Error()
	} else if res.Hint != "" {
		entry.Error = res.Hint
	}
	s.history = append(s.history, entry)
	s.mu.Unlock()

	w.future.complete(res, err)
	s.reg.metrics.CommandResolved(string(res.Outcome), res.Duration)

	e := eventbus.Event{
		Command:  w.future.command,
		Output:   res.Output,
		ExitCode: res.ExitCode,
	}
	switch res.Outcome {
	case OutcomeCompleted:
		e.Type = eventbus.EventCommandCompleted
	case OutcomeTimedOut:
		e.Type = eventbus.EventCommandTimedOut
	default:
		e.Type = eventbus.EventCommandFailed
	}
	if err != nil {
		e.Error = err.Error()
	} else if res.Hint != "" {
		e.Error = res.Hint
	}
	s.publish(e)

	s.log.Debug("command resolved",
		slog.String("command", w.future.command),
		slog.String("outcome", string(res.Outcome)),
		slog.Duration("duration", res.Duration),
	)
	return true
}

// onTimeout resolves w as timed out. The session stays running with input
// disabled; a forced submit or a late prompt recovers it.
func (s *Session) onTimeout(w *waiter) {
	s.mu.Lock()
	if w.resolved {
		s.mu.Unlock()
		return
	}
	output := s.buffer.String()
	s.mu.Unlock()

	s.log.Warn("command timed out", slog.String("command", w.future.command))
	s.resolve(w, Result{
		Outcome: OutcomeTimedOut,
		Output:  cleanOutput(output, w.future.command, false),
	}, ErrCommandTimeout)
}

// fail resolves the in-flight command with err, if there is one.
func (s *Session) fail(err error) {
	s.mu.Lock()
	w := s.current
	output := s.buffer.String()
	s.mu.Unlock()
	if w == nil {
		return
	}
	s.resolve(w, Result{
		Outcome:  OutcomeFailed,
		Output:   cleanOutput(output, w.future.command, false),
		ExitCode: -1,
	}, err)
}
