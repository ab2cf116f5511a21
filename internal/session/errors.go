package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoActiveSession is returned when a command is not addressed to a
	// session and none is active. It wraps ErrSessionNotFound.
	ErrNoActiveSession = fmt.Errorf("no active session: %w", ErrSessionNotFound)

	// ErrSessionNotRunning is returned when submitting to an exited session.
	ErrSessionNotRunning = errors.New("session is not running")

	// ErrSessionExists is returned when creating a session whose id is
	// taken by a running session.
	ErrSessionExists = errors.New("session already exists")

	// ErrCommandBlocked is returned when the command filter refuses a
	// command. Nothing is queued or written.
	ErrCommandBlocked = errors.New("command blocked")

	// ErrPermissionDenied is returned when the permission provider refuses
	// a credential or a confirmation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPasswordRetriesExceeded is returned after the shell asked for a
	// password more often than allowed. The session is killed.
	ErrPasswordRetriesExceeded = errors.New("password retries exceeded")

	// ErrCommandTimeout is returned when no completion was seen in time.
	// The session keeps running.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrProcessExited is returned for commands cut short by the shell
	// process exiting.
	ErrProcessExited = errors.New("process exited")
)

// ExitError carries the exit code of a shell that exited while a command
// was in flight or queued.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}

// Is makes errors.Is(err, ErrProcessExited) hold for an *ExitError.
func (e *ExitError) Is(target error) bool {
	return target == ErrProcessExited
}
