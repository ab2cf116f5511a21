package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/shellpilot/internal/session"
)

// Version is reported to MCP clients during initialization.
const Version = "0.3.0"

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer  *server.MCPServer
	registry   sessionRegistry
	recordings recordingLister
	log        *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRecordings exposes session recordings through the shell_recordings tool.
func WithRecordings(r recordingLister) ServerOption {
	return func(s *Server) {
		s.recordings = r
	}
}

// WithLogger sets the logger used by tool handlers.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// withRegistry replaces the registry; tests use it to inject fakes.
func withRegistry(r sessionRegistry) ServerOption {
	return func(s *Server) {
		s.registry = r
	}
}

// NewServer creates an MCP server that drives the sessions of reg.
func NewServer(reg *session.Registry, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"shellpilot",
			Version,
			server.WithToolCapabilities(false),
			server.WithLogging(),
		),
		log: slog.Default(),
	}
	if reg != nil {
		s.registry = reg
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio transport. It returns when stdin is
// closed.
func (s *Server) Run() error {
	s.log.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}
