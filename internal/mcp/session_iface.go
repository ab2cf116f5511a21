// Package mcp implements the MCP protocol server for shellpilot.
package mcp

import (
	"context"

	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/recording"
	"github.com/acolita/shellpilot/internal/session"
)

// sessionRegistry abstracts the session operations MCP handlers call.
type sessionRegistry interface {
	Create(ctx context.Context, req session.CreateRequest) (string, error)
	Kill(id string) error
	SwitchActive(id string) error
	Active() string
	List(filter session.ListFilter) []session.Info
	Submit(ctx context.Context, id, text string, force bool) (*session.Future, error)
	History(id string) ([]session.HistoryEntry, error)
	Output(id string) (string, error)
	Events() *eventbus.Bus
}

// recordingLister lists finished and active session recordings.
type recordingLister interface {
	List() ([]recording.Info, error)
	IsEnabled() bool
}

// Verify concrete types satisfy the interfaces at compile time.
var _ sessionRegistry = (*session.Registry)(nil)
var _ recordingLister = (*recording.Manager)(nil)
