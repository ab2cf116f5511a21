package session

import (
	"context"
	"sync"
	"time"
)

// Outcome is how a submitted command resolved.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeExited    Outcome = "exited"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a resolved command.
type Result struct {
	SessionID string        `json:"session_id"`
	Command   string        `json:"command"`
	Outcome   Outcome       `json:"outcome"`
	Output    string        `json:"output,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	// Hint explains a sudo failure seen in the output, if any.
	Hint string `json:"hint,omitempty"`
}

// Future is the handle of a submitted command. It resolves exactly once.
type Future struct {
	sessionID string
	command   string
	queued    bool

	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

func newFuture(sessionID, command string) *Future {
	return &Future{
		sessionID: sessionID,
		command:   command,
		done:      make(chan struct{}),
	}
}

// Command returns the submitted text.
func (f *Future) Command() string { return f.command }

// Queued reports whether the command waited in the queue instead of being
// written immediately.
func (f *Future) Queued() bool { return f.queued }

// Done is closed once the command resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the command resolves or ctx is done. A cancelled ctx
// does not cancel the command.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Resolved reports whether the command resolved.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// complete reports false when the future had already resolved.
func (f *Future) complete(res Result, err error) bool {
	first := false
	f.once.Do(func() {
		res.SessionID = f.sessionID
		res.Command = f.command
		f.result = res
		f.err = err
		first = true
		close(f.done)
	})
	return first
}
