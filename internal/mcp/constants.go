package mcp

// Common parameter descriptions and error messages used across MCP tools.
const (
	descSessionID       = "The session ID"
	descSessionOrActive = "The session ID (default: the active session)"

	errSessionIDRequired = "session_id is required"
	errCommandRequired   = "command is required"
	errNoActiveSession   = "no session_id given and no active session"

	// Maximum events returned by one shell_events call.
	maxEventsPerCall = 200
)
