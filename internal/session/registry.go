package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/acolita/shellpilot/internal/adapters/realclock"
	"github.com/acolita/shellpilot/internal/eventbus"
	"github.com/acolita/shellpilot/internal/metrics"
	"github.com/acolita/shellpilot/internal/ports"
	"github.com/acolita/shellpilot/internal/prompt"
	"github.com/acolita/shellpilot/internal/security"
)

// CreateRequest describes a new session.
type CreateRequest struct {
	// ID is generated when empty.
	ID string
	// Server names a configured SSH server; empty opens a local shell.
	Server string
	// InitialCommand is dispatched once the shell is ready.
	InitialCommand string
}

// MainSession is the SwitchActive target that routes to no session.
const MainSession = "main"

// ListFilter selects sessions in List.
type ListFilter struct {
	// ActiveOnly limits the result to the active session.
	ActiveOnly bool
	// RunningOnly drops exited sessions.
	RunningOnly bool
}

// Registry owns every session and the active-session pointer.
type Registry struct {
	spawner    ports.Spawner
	clock      ports.Clock
	classifier prompt.Classifier
	provider   ports.PermissionProvider
	cache      *security.CredentialCache
	filter     *security.CommandFilter
	limiter    *security.AuthRateLimiter
	recorder   Recorder
	metrics    *metrics.Collector
	bus        *eventbus.Bus
	log        *slog.Logger
	settings   atomic.Pointer[Settings]

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	active   string
	closed   bool
}

// NewRegistry creates an empty registry that starts shells with spawner.
func NewRegistry(spawner ports.Spawner, opts ...RegistryOption) *Registry {
	r := &Registry{
		spawner:  spawner,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.settings.Load() == nil {
		s := DefaultSettings()
		r.settings.Store(&s)
	}
	if r.clock == nil {
		r.clock = realclock.New()
	}
	if r.classifier == nil {
		r.classifier = prompt.NewRules(prompt.Options{})
	}
	if r.cache == nil {
		r.cache = security.NewCredentialCache(security.DefaultCredentialTTL, security.WithClock(r.clock))
	}
	if r.bus == nil {
		r.bus = eventbus.New()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Settings returns the current settings.
func (r *Registry) Settings() Settings {
	return *r.settings.Load()
}

// Configure replaces the settings used by every session.
func (r *Registry) Configure(s Settings) {
	r.settings.Store(&s)
}

// Events returns the bus every session publishes on.
func (r *Registry) Events() *eventbus.Bus {
	return r.bus
}

// Subscribe returns a channel of events from every session.
func (r *Registry) Subscribe() (<-chan eventbus.Event, func()) {
	return r.bus.Subscribe()
}

// Create spawns a shell and makes it the active session.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (string, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.RLock()
	closed := r.closed
	existing, taken := r.sessions[id]
	r.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("create %s: registry closed", id)
	}
	if taken && existing.Status() == StatusRunning {
		return "", fmt.Errorf("create %s: %w", id, ErrSessionExists)
	}

	st := r.Settings()
	shell, err := r.spawner.Spawn(ctx, ports.SpawnOptions{
		SessionID: id,
		Server:    req.Server,
		Rows:      st.Rows,
		Cols:      st.Cols,
	})
	if err != nil {
		return "", fmt.Errorf("spawn shell for %s: %w", id, err)
	}

	s := newSession(r, id, req.Server, shell)
	if req.InitialCommand != "" {
		f := newFuture(id, req.InitialCommand)
		f.queued = true
		s.pending = append(s.pending, f)
	}

	r.mu.Lock()
	if cur, ok := r.sessions[id]; ok && cur.Status() == StatusRunning {
		r.mu.Unlock()
		_ = shell.Kill()
		return "", fmt.Errorf("create %s: %w", id, ErrSessionExists)
	}
	if _, ok := r.sessions[id]; !ok {
		r.order = append(r.order, id)
	}
	r.sessions[id] = s
	r.active = id
	r.mu.Unlock()

	if r.recorder != nil {
		if err := r.recorder.StartRecording(id, st.Cols, st.Rows); err != nil {
			s.log.Warn("start recording", slog.String("error", err.Error()))
		}
	}
	r.metrics.SessionStarted()
	s.log.Info("session created",
		slog.String("server", req.Server),
		slog.Bool("initial_command", req.InitialCommand != ""),
	)
	s.publish(eventbus.Event{Type: eventbus.EventSessionCreated, Command: req.InitialCommand})
	s.start()
	return id, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Active returns the id of the active session, or "".
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SwitchActive makes id the active session. "" and MainSession clear the
// pointer. Unknown or exited targets leave the pointer unchanged.
func (r *Registry) SwitchActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" || id == MainSession {
		r.active = ""
		return nil
	}
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("switch to %s: %w", id, ErrSessionNotFound)
	}
	if s.Status() != StatusRunning {
		return fmt.Errorf("switch to %s: %w", id, ErrSessionNotRunning)
	}
	r.active = id
	return nil
}

// Kill terminates the shell of id. The active pointer is cleared right
// away when id was active.
func (r *Registry) Kill(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("kill %s: %w", id, ErrSessionNotFound)
	}
	if r.active == id {
		r.active = ""
	}
	r.mu.Unlock()

	if s.Status() != StatusRunning {
		return nil
	}
	s.log.Info("killing session")
	if err := s.Kill(); err != nil {
		return fmt.Errorf("kill %s: %w", id, err)
	}
	return nil
}

// List returns session snapshots in creation order.
func (r *Registry) List(filter ListFilter) []Info {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	active := r.active
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, r.sessions[id])
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		info := s.Info()
		info.Active = info.ID == active
		if filter.ActiveOnly && !info.Active {
			continue
		}
		if filter.RunningOnly && info.Status != StatusRunning {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Submit sends text to session id, or to the active session when id is
// empty. Commands refused by the command filter are rejected before any
// state changes.
func (r *Registry) Submit(ctx context.Context, id, text string, force bool) (*Future, error) {
	if id == "" {
		id = r.Active()
		if id == "" {
			return nil, ErrNoActiveSession
		}
	}
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if ok, reason := r.filter.IsAllowed(text); !ok {
		s.log.Warn("command rejected", slog.String("reason", reason))
		return nil, fmt.Errorf("%s: %w", reason, ErrCommandBlocked)
	}
	return s.Submit(ctx, text, force)
}

// History returns the command history of session id.
func (r *Registry) History(id string) ([]HistoryEntry, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return s.History(), nil
}

// Output returns the retained output of session id.
func (r *Registry) Output(id string) (string, error) {
	s, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return s.Output(), nil
}

// Close kills every running session, waits for them to exit or ctx to
// end, and closes the event bus.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.active = ""
	r.mu.Unlock()

	for _, s := range sessions {
		if s.Status() == StatusRunning {
			_ = s.Kill()
		}
	}
	for _, s := range sessions {
		select {
		case <-s.Exited():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.cache.ClearAll()
	r.bus.Close()
	return nil
}

// sessionExited is called once per session after its shell is reaped.
func (r *Registry) sessionExited(s *Session, code int) {
	r.mu.Lock()
	if r.active == s.ID {
		r.active = ""
	}
	r.mu.Unlock()

	cause := "exited"
	if code != 0 {
		cause = "failed"
	}
	r.metrics.SessionEnded(cause)
}

// accountFor returns the credential identity of server.
func (r *Registry) accountFor(server string) Account {
	if a, ok := r.Settings().Accounts[server]; ok && a.Host != "" {
		if a.User == "" {
			a.User = localUser()
		}
		return a
	}
	host := server
	if host == "" {
		host, _ = os.Hostname()
		if host == "" {
			host = "localhost"
		}
	}
	return Account{Host: host, User: localUser()}
}

func localUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// Running returns the ids of running sessions, sorted.
func (r *Registry) Running() []string {
	var ids []string
	for _, info := range r.List(ListFilter{RunningOnly: true}) {
		ids = append(ids, info.ID)
	}
	sort.Strings(ids)
	return ids
}
