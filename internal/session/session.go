// Package session drives interactive shells: it dispatches commands one at a
// time, answers password and confirmation prompts, and resolves each command
// when the shell prompt comes back.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/prompt"
	"github.com/acolita/shellpilot/internal/sudo"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// partialLimit caps the unterminated line kept between chunks.
const partialLimit = 512

// Info is a snapshot of a session.
type Info struct {
	ID           string    `json:"id"`
	Server       string    `json:"server,omitempty"`
	Status       Status    `json:"status"`
	Active       bool      `json:"active"`
	Ready        bool      `json:"ready"`
	InputEnabled bool      `json:"input_enabled"`
	Queued       int       `json:"queued"`
	LastCommand  string    `json:"last_command,omitempty"`
	ExitCode     int       `json:"exit_code"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
}

// HistoryEntry records one resolved command.
type HistoryEntry struct {
	Command   string        `json:"command"`
	Outcome   Outcome       `json:"outcome"`
	ExitCode  int           `json:"exit_code"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Session is one interactive shell process.
type Session struct {
	ID      string
	Server  string
	account Account

	reg    *Registry
	shell  ports.Shell
	events *eventbus.Bus
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}

	mu          sync.Mutex
	status      Status
	exitCode    int
	startedAt   time.Time
	endedAt     time.Time
	lastCommand string
	output      strings.Builder
	buffer      strings.Builder
	partial     string
	history     []HistoryEntry

	ready        bool
	inputEnabled bool
	dispatching  bool
	pending      []*Future
	current      *waiter
	startTimer   ports.Timer

	expecting        bool
	commandComplete  bool
	waitingPassword  bool
	retryArmed       bool
	passwordAttempts int
	sudoFailure      sudo.ErrorType
	waitingConfirm   bool
	sudoGranted      bool
}

func newSession(r *Registry, id, server string, shell ports.Shell) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	st := r.Settings()
	return &Session{
		ID:          id,
		Server:      server,
		account:     r.accountFor(server),
		reg:         r,
		shell:       shell,
		events:      eventbus.NewWithHistory(64),
		log:         r.log.With(slog.String("session_id", id)),
		ctx:         ctx,
		cancel:      cancel,
		exited:      make(chan struct{}),
		status:      StatusRunning,
		startedAt:   r.clock.Now(),
		sudoGranted: st.SudoGrantedDefault,
	}
}

func (s *Session) start() {
	if st := s.reg.Settings(); st.StartupTimeout > 0 {
		s.mu.Lock()
		s.startTimer = s.reg.clock.AfterFunc(st.StartupTimeout, s.onStartupTimeout)
		s.mu.Unlock()
	}
	go s.readLoop()
	go s.waitLoop()
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		Server:       s.Server,
		Status:       s.status,
		Ready:        s.ready,
		InputEnabled: s.inputEnabled,
		Queued:       len(s.pending),
		LastCommand:  s.lastCommand,
		ExitCode:     s.exitCode,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
	}
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// InputEnabled reports whether a non-forced submit would be written
// immediately.
func (s *Session) InputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputEnabled
}

// History returns the resolved commands, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}

// Output returns the retained output of the session.
func (s *Session) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

// Subscribe returns this session's notifications.
func (s *Session) Subscribe() (<-chan eventbus.Event, func()) {
	return s.events.Subscribe()
}

// Exited is closed once the shell process is gone.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// Kill terminates the shell process. Resolution of pending commands happens
// when the process is reaped.
func (s *Session) Kill() error {
	return s.shell.Kill()
}

func (s *Session) publish(e eventbus.Event) {
	e.SessionID = s.ID
	if e.Time.IsZero() {
		e.Time = s.reg.clock.Now()
	}
	s.events.Publish(e)
	before := s.reg.bus.Dropped()
	s.reg.bus.Publish(e)
	if d := s.reg.bus.Dropped() - before; d > 0 {
		s.reg.metrics.EventDropped(int(d))
	}
}

func (s *Session) write(data string) error {
	_, err := s.shell.Write([]byte(data))
	return err
}

func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.shell.Read(buf)
		if n > 0 {
			s.handleChunk(string(buf[:n]))
		}
		if err != nil {
			s.log.Debug("shell output closed", slog.String("error", err.Error()))
			return
		}
	}
}

func (s *Session) waitLoop() {
	code, err := s.shell.Wait()
	if err != nil {
		s.log.Debug("wait for shell", slog.String("error", err.Error()))
	}
	s.onExit(code)
}

// appendCapped must be called with s.mu held.
func appendCapped(b *strings.Builder, chunk string, limit int) {
	b.WriteString(chunk)
	if limit > 0 && b.Len() > limit {
		keep := b.String()[b.Len()-limit:]
		b.Reset()
		b.WriteString(keep)
	}
}

// handleChunk classifies one piece of output. Chunks are processed in
// arrival order by the single read loop.
func (s *Session) handleChunk(chunk string) {
	if s.reg.recorder != nil {
		s.reg.recorder.RecordOutput(s.ID, chunk)
	}
	limit := s.reg.Settings().OutputLimit
	c := s.reg.classifier

	s.mu.Lock()
	appendCapped(&s.output, chunk, limit)
	if s.expecting || s.current != nil {
		appendCapped(&s.buffer, chunk, limit)
	}
	window := s.partial + chunk
	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		s.partial = window[i+1:]
	} else {
		s.partial = window
	}
	if len(s.partial) > partialLimit {
		s.partial = s.partial[len(s.partial)-partialLimit:]
	}

	if !s.ready {
		if !c.IsShellReadyPrompt(window) {
			s.mu.Unlock()
			return
		}
		s.markReady()
		s.mu.Unlock()
		s.publish(eventbus.Event{Type: eventbus.EventSessionReady})
		s.becomeIdle()
		return
	}
	s.mu.Unlock()

	if kind := sudo.ParseError(chunk); kind != sudo.ErrorNone {
		s.noteSudoFailure(kind)
	}
	if sudo.IsGaveUp(chunk) {
		s.onPasswordGaveUp()
	} else {
		sawError := c.IsPasswordError(chunk)
		if sawError {
			s.onPasswordError()
		}
		if c.IsPasswordPrompt(chunk) && s.passwordPromptArmed() {
			s.onPasswordPrompt(chunk)
			return
		}
		if sawError {
			return
		}
		if c.IsConfirmationPrompt(chunk) && !s.isWaitingConfirm() {
			s.onConfirmationPrompt(chunk)
			return
		}
	}

	s.checkCompletion(window)
}

// markReady must be called with s.mu held.
func (s *Session) markReady() {
	s.ready = true
	if s.startTimer != nil {
		s.startTimer.Stop()
		s.startTimer = nil
	}
}

func (s *Session) onStartupTimeout() {
	s.mu.Lock()
	if s.ready || s.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.markReady()
	s.mu.Unlock()

	s.log.Warn("no shell prompt seen, assuming the shell is ready")
	s.publish(eventbus.Event{Type: eventbus.EventSessionReady})
	s.becomeIdle()
}

func (s *Session) checkCompletion(window string) {
	s.mu.Lock()
	if s.commandComplete || !s.expecting {
		s.mu.Unlock()
		return
	}
	st := prompt.State{
		ExpectingOutput:        s.expecting,
		WaitingForPassword:     s.waitingPassword,
		WaitingForConfirmation: s.waitingConfirm,
	}
	if !s.reg.classifier.IsCommandComplete(window, st) {
		s.mu.Unlock()
		return
	}

	s.commandComplete = true
	s.expecting = false
	w := s.current
	output := s.buffer.String()
	answeredPassword := s.passwordAttempts > 0
	hint := sudo.SuggestFix(s.sudoFailure)
	s.waitingPassword = false
	s.retryArmed = false
	s.passwordAttempts = 0
	s.sudoFailure = sudo.ErrorNone
	s.waitingConfirm = false
	s.mu.Unlock()

	if answeredPassword && hint == "" && s.reg.limiter != nil {
		s.reg.limiter.RecordSuccess(s.account.Host, s.account.User)
	}
	go s.finishCommand(w, output, hint)
}

func (s *Session) finishCommand(w *waiter, raw, hint string) {
	s.reg.clock.Sleep(s.reg.Settings().CompletionDelay)

	if w != nil {
		res := Result{
			Outcome: OutcomeCompleted,
			Output:  cleanOutput(raw, w.future.command, true),
			Hint:    hint,
		}
		if !s.resolve(w, res, nil) {
			s.log.Debug("completion after resolution ignored",
				slog.String("command", w.future.command),
			)
		}
	}
	s.becomeIdle()
}

func (s *Session) onExit(code int) {
	s.mu.Lock()
	s.status = StatusExited
	s.exitCode = code
	s.endedAt = s.reg.clock.Now()
	s.inputEnabled = true
	s.expecting = false
	w := s.current
	pending := s.pending
	s.pending = nil
	if s.startTimer != nil {
		s.startTimer.Stop()
		s.startTimer = nil
	}
	output := s.buffer.String()
	s.mu.Unlock()

	s.cancel()
	close(s.exited)
	_ = s.shell.Close()

	if w != nil {
		res := Result{Outcome: OutcomeExited, ExitCode: code, Output: cleanOutput(output, w.future.command, false)}
		s.resolve(w, res, &ExitError{Code: code})
	}
	for _, f := range pending {
		res := Result{Outcome: OutcomeExited, ExitCode: code}
		f.complete(res, &ExitError{Code: code})
		s.reg.metrics.CommandResolved(string(OutcomeExited), 0)
	}

	if s.reg.cache != nil {
		s.reg.cache.Clear(s.ID)
	}
	if s.reg.recorder != nil {
		if err := s.reg.recorder.StopRecording(s.ID); err != nil {
			s.log.Warn("stop recording", slog.String("error", err.Error()))
		}
	}

	s.log.Info("shell exited", slog.Int("exit_code", code))
	s.publish(eventbus.Event{Type: eventbus.EventSessionExited, ExitCode: code})
	s.reg.sessionExited(s, code)
	s.events.Close()
}

// cleanOutput strips escapes, the echoed command and, for completed
// commands, the trailing prompt line.
func cleanOutput(raw, command string, dropPrompt bool) string {
	text := strings.ReplaceAll(prompt.StripANSI(raw), "\r", "")
	lines := strings.Split(text, "\n")

	first := strings.TrimSpace(command)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = strings.TrimSpace(first[:i])
	}
	if len(lines) > 0 && first != "" && strings.HasSuffix(strings.TrimSpace(lines[0]), first) {
		lines = lines[1:]
	}
	if dropPrompt && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n ")
}
