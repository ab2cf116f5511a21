package ports

import (
	"context"
	"io"
)

// Shell is an interactive shell process attached to a pseudo-terminal.
// Local and SSH shells both implement it.
type Shell interface {
	io.Reader
	io.Writer

	// Close releases the terminal. It does not wait for the process.
	Close() error

	// Kill terminates the process.
	Kill() error

	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
}

// SpawnOptions configures a new shell.
type SpawnOptions struct {
	SessionID string
	// Server selects a configured remote host. Empty means local.
	Server string
	Rows   int
	Cols   int
	Dir    string
	Env    []string
}

// Spawner starts shells.
type Spawner interface {
	Spawn(ctx context.Context, opts SpawnOptions) (Shell, error)
}
