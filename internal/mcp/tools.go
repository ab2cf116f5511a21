package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/session"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(shellSessionCreateTool(), s.handleShellSessionCreate)
	s.mcpServer.AddTool(shellExecTool(), s.handleShellExec)
	s.mcpServer.AddTool(shellSessionKillTool(), s.handleShellSessionKill)
	s.mcpServer.AddTool(shellSessionSwitchTool(), s.handleShellSessionSwitch)
	s.mcpServer.AddTool(shellSessionListTool(), s.handleShellSessionList)
	s.mcpServer.AddTool(shellHistoryTool(), s.handleShellHistory)
	s.mcpServer.AddTool(shellEventsTool(), s.handleShellEvents)
	if s.recordings != nil {
		s.mcpServer.AddTool(shellRecordingsTool(), s.handleShellRecordings)
	}
}

// Tool definitions

func shellSessionCreateTool() mcp.Tool {
	return mcp.NewTool("shell_session_create",
		mcp.WithDescription("Start a persistent interactive shell (local PTY or a configured SSH server) and make it the active session"),
		mcp.WithString("session_id",
			mcp.Description("Session ID to use (default: a generated UUID)"),
		),
		mcp.WithString("server",
			mcp.Description("Name of a configured SSH server (default: local shell)"),
		),
		mcp.WithString("initial_command",
			mcp.Description("Command to run once the shell prompt appears"),
		),
	)
}

func shellExecTool() mcp.Tool {
	return mcp.NewTool("shell_exec",
		mcp.WithDescription("Submit a command. Sudo passwords and yes/no confirmations are answered automatically. "+
			"While another command is running the new one is queued unless force is set."),
		mcp.WithString("session_id",
			mcp.Description(descSessionOrActive),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute; several lines may be given"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Write the command even if another one is still running (default: false)"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the command to finish (default: true)"),
			mcp.DefaultBool(true),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Stop waiting after this many milliseconds; the command keeps running (default: until it finishes)"),
		),
	)
}

func shellSessionKillTool() mcp.Tool {
	return mcp.NewTool("shell_session_kill",
		mcp.WithDescription("Kill the shell process of a session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
	)
}

func shellSessionSwitchTool() mcp.Tool {
	return mcp.NewTool("shell_session_switch",
		mcp.WithDescription("Make a session the target of commands without a session_id; 'main' clears the active session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session ID, or 'main'"),
		),
	)
}

func shellSessionListTool() mcp.Tool {
	return mcp.NewTool("shell_session_list",
		mcp.WithDescription("List sessions with their status, queue length and last command"),
		mcp.WithBoolean("active",
			mcp.Description("Only the active session (default: false)"),
		),
		mcp.WithBoolean("running",
			mcp.Description("Only running sessions (default: false)"),
		),
	)
}

func shellHistoryTool() mcp.Tool {
	return mcp.NewTool("shell_history",
		mcp.WithDescription("Show the commands run in a session and, optionally, its recent output"),
		mcp.WithString("session_id",
			mcp.Description(descSessionOrActive),
		),
		mcp.WithNumber("output_lines",
			mcp.Description("Include this many trailing lines of session output (default: 0)"),
		),
	)
}

func shellEventsTool() mcp.Tool {
	return mcp.NewTool("shell_events",
		mcp.WithDescription("Poll session notifications (dispatch, completion, timeout, password, confirmation, exit)"),
		mcp.WithNumber("since",
			mcp.Description("Return events with a sequence number greater than this (default: 0)"),
		),
		mcp.WithString("session_id",
			mcp.Description("Only events of this session"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events (default: 200)"),
		),
	)
}

func shellRecordingsTool() mcp.Tool {
	return mcp.NewTool("shell_recordings",
		mcp.WithDescription("List asciicast recordings of sessions, newest first"),
		mcp.WithString("session_id",
			mcp.Description("Only recordings of this session"),
		),
	)
}

// Tool handlers

func (s *Server) handleShellSessionCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	create := session.CreateRequest{
		ID:             mcp.ParseString(req, "session_id", ""),
		Server:         mcp.ParseString(req, "server", ""),
		InitialCommand: mcp.ParseString(req, "initial_command", ""),
	}
	if create.ID == session.MainSession {
		return mcp.NewToolResultError("session_id 'main' is reserved"), nil
	}

	s.log.Info("creating shell session",
		slog.String("session_id", create.ID),
		slog.String("server", create.Server),
	)

	id, err := s.registry.Create(ctx, create)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	mode := "local"
	if create.Server != "" {
		mode = "ssh"
	}
	return jsonResult(map[string]any{
		"session_id": id,
		"status":     "running",
		"mode":       mode,
		"server":     create.Server,
		"active":     s.registry.Active() == id,
	})
}

// execResponse is the shell_exec result.
type execResponse struct {
	SessionID  string `json:"session_id"`
	Command    string `json:"command"`
	Status     string `json:"status"`
	Queued     bool   `json:"queued"`
	Output     string `json:"output,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

func (s *Server) handleShellExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "session_id", "")
	command := mcp.ParseString(req, "command", "")
	force := mcp.ParseBoolean(req, "force", false)
	wait := mcp.ParseBoolean(req, "wait", true)
	timeoutMs := mcp.ParseInt(req, "timeout_ms", 0)

	if strings.TrimSpace(command) == "" {
		return mcp.NewToolResultError(errCommandRequired), nil
	}
	id, errResult := s.resolveSession(id)
	if errResult != nil {
		return errResult, nil
	}

	s.log.Info("executing command",
		slog.String("session_id", id),
		slog.String("command", command),
		slog.Bool("force", force),
	)

	f, err := s.registry.Submit(ctx, id, command, force)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp := execResponse{SessionID: id, Command: command, Queued: f.Queued()}
	if !wait {
		resp.Status = "dispatched"
		if resp.Queued {
			resp.Status = "queued"
		}
		resp.Hint = "Poll shell_events for the result."
		return jsonResult(resp)
	}

	waitCtx := ctx
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	res, err := f.Wait(waitCtx)
	if waitCtx.Err() != nil {
		if !f.Resolved() {
			resp.Status = "pending"
			resp.Hint = "The command is still running. Poll shell_events for the result."
			return jsonResult(resp)
		}
		res, err = f.Wait(context.Background())
	}

	resp.Status = string(res.Outcome)
	resp.Output = res.Output
	resp.ExitCode = res.ExitCode
	resp.DurationMs = res.Duration.Milliseconds()
	if err == nil {
		return jsonResult(resp)
	}

	resp.Error = err.Error()
	if resp.Status == "" {
		resp.Status = string(outcomeOf(err))
	}
	var exitErr *session.ExitError
	if errors.As(err, &exitErr) {
		resp.ExitCode = exitErr.Code
	}
	if errors.Is(err, session.ErrCommandTimeout) {
		resp.Hint = "The session is still running; submit with force=true to send another command."
	}
	return jsonErrorResult(resp)
}

func (s *Server) handleShellSessionKill(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "session_id", "")
	if id == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}

	s.log.Info("killing session", slog.String("session_id", id))

	if err := s.registry.Kill(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Session killed"), nil
}

func (s *Server) handleShellSessionSwitch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "session_id", "")
	if id == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}

	if err := s.registry.SwitchActive(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"active": s.registry.Active(),
	})
}

func (s *Server) handleShellSessionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := session.ListFilter{
		ActiveOnly:  mcp.ParseBoolean(req, "active", false),
		RunningOnly: mcp.ParseBoolean(req, "running", false),
	}
	return jsonResult(map[string]any{
		"active":   s.registry.Active(),
		"sessions": s.registry.List(filter),
	})
}

func (s *Server) handleShellHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := s.resolveSession(mcp.ParseString(req, "session_id", ""))
	if errResult != nil {
		return errResult, nil
	}
	outputLines := mcp.ParseInt(req, "output_lines", 0)

	history, err := s.registry.History(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"session_id": id,
		"history":    history,
	}
	if outputLines > 0 {
		out, err := s.registry.Output(id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result["output"] = tailLines(out, outputLines)
	}
	return jsonResult(result)
}

func (s *Server) handleShellEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since := mcp.ParseInt(req, "since", 0)
	id := mcp.ParseString(req, "session_id", "")
	limit := mcp.ParseInt(req, "limit", maxEventsPerCall)
	if limit <= 0 || limit > maxEventsPerCall {
		limit = maxEventsPerCall
	}
	if since < 0 {
		since = 0
	}

	all := s.registry.Events().Since(uint64(since))
	events := make([]eventbus.Event, 0, len(all))
	next := uint64(since)
	for _, e := range all {
		if len(events) == limit {
			break
		}
		next = e.Seq
		if id != "" && e.SessionID != id {
			continue
		}
		events = append(events, e)
	}

	return jsonResult(map[string]any{
		"events":   events,
		"next_seq": next,
	})
}

func (s *Server) handleShellRecordings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "session_id", "")

	infos, err := s.recordings.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if id != "" {
		kept := infos[:0]
		for _, info := range infos {
			if info.SessionID == id {
				kept = append(kept, info)
			}
		}
		infos = kept
	}
	return jsonResult(map[string]any{
		"enabled":    s.recordings.IsEnabled(),
		"recordings": infos,
	})
}

// resolveSession returns id, or the active session when id is empty.
func (s *Server) resolveSession(id string) (string, *mcp.CallToolResult) {
	if id != "" {
		return id, nil
	}
	if active := s.registry.Active(); active != "" {
		return active, nil
	}
	return "", mcp.NewToolResultError(errNoActiveSession)
}

func outcomeOf(err error) session.Outcome {
	switch {
	case errors.Is(err, session.ErrCommandTimeout):
		return session.OutcomeTimedOut
	case errors.Is(err, session.ErrProcessExited):
		return session.OutcomeExited
	default:
		return session.OutcomeFailed
	}
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// jsonErrorResult is jsonResult with the error flag set.
func jsonErrorResult(v any) (*mcp.CallToolResult, error) {
	res, err := jsonResult(v)
	if res != nil {
		res.IsError = true
	}
	return res, err
}
