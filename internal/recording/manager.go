package recording

import (
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/acolita/shellpilot/internal/adapters/realclock"
	"github.com/acolita/shellpilot/internal/adapters/realfs"
	"github.com/acolita/shellpilot/internal/ports"
)

// Manager keeps one recorder per session and implements the session
// package's Recorder.
type Manager struct {
	mu        sync.RWMutex
	recorders map[string]*Recorder
	basePath  string
	enabled   bool
	keep      int
	term      string

	fs    ports.FileSystem
	dirFS func(dir string) iofs.FS
	clock ports.Clock
	log   *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFileSystem sets where recordings are written.
func WithFileSystem(fs ports.FileSystem) ManagerOption {
	return func(m *Manager) { m.fs = fs }
}

// WithClock sets the clock used for event timestamps.
func WithClock(c ports.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithKeep sets how many recordings Prune keeps. Zero keeps all.
func WithKeep(n int) ManagerOption {
	return func(m *Manager) { m.keep = n }
}

// WithTerm sets the TERM recorded in headers.
func WithTerm(term string) ManagerOption {
	return func(m *Manager) { m.term = term }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a manager writing under basePath.
func NewManager(basePath string, enabled bool, opts ...ManagerOption) *Manager {
	m := &Manager{
		recorders: make(map[string]*Recorder),
		basePath:  basePath,
		enabled:   enabled,
		dirFS:     os.DirFS,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fs == nil {
		m.fs = realfs.New()
	}
	if m.clock == nil {
		m.clock = realclock.New()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// StartRecording starts recording for a session, replacing any recorder
// it already had.
func (m *Manager) StartRecording(sessionID string, width, height int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return nil
	}
	if existing, ok := m.recorders[sessionID]; ok {
		existing.Close()
	}

	r, err := NewRecorder(m.basePath, Meta{
		SessionID: sessionID,
		Width:     width,
		Height:    height,
		Title:     "shellpilot " + sessionID,
		Term:      m.term,
	}, m.fs, m.clock)
	if err != nil {
		return err
	}
	m.recorders[sessionID] = r
	m.log.Debug("recording started",
		slog.String("session_id", sessionID),
		slog.String("path", r.Path()),
	)
	return nil
}

func (m *Manager) recorder(sessionID string) *Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recorders[sessionID]
}

// RecordOutput records output for a session.
func (m *Manager) RecordOutput(sessionID, data string) {
	if r := m.recorder(sessionID); r != nil {
		if err := r.RecordOutput(data); err != nil {
			m.log.Warn("record output", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
	}
}

// RecordInput records input for a session. Masked input is stored as
// asterisks.
func (m *Manager) RecordInput(sessionID, data string, masked bool) {
	r := m.recorder(sessionID)
	if r == nil {
		return
	}
	var err error
	if masked {
		err = r.RecordMaskedInput(len(data))
	} else {
		err = r.RecordInput(data)
	}
	if err != nil {
		m.log.Warn("record input", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

// StopRecording closes the session's recorder and prunes old recordings.
func (m *Manager) StopRecording(sessionID string) error {
	m.mu.Lock()
	r, ok := m.recorders[sessionID]
	delete(m.recorders, sessionID)
	keep := m.keep
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := r.Close(); err != nil {
		return fmt.Errorf("close recording %s: %w", sessionID, err)
	}
	if keep > 0 {
		if _, err := m.Prune(keep); err != nil {
			m.log.Warn("prune recordings", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Path returns the active recording file of a session, or "".
func (m *Manager) Path(sessionID string) string {
	if r := m.recorder(sessionID); r != nil {
		return r.Path()
	}
	return ""
}

// CloseAll closes all recorders.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, r := range m.recorders {
		r.Close()
		delete(m.recorders, id)
	}
}

// IsEnabled reports whether new sessions are recorded.
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Configure applies reloaded settings. Running recordings continue.
func (m *Manager) Configure(enabled bool, keep int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	m.keep = keep
}

// Info describes a recording file on disk.
type Info struct {
	Path      string    `json:"path"`
	SessionID string    `json:"session_id"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
}

// List returns every recording under the base path, newest first.
func (m *Manager) List() ([]Info, error) {
	if m.basePath == "" {
		return nil, nil
	}
	fsys := m.dirFS(m.basePath)
	matches, err := doublestar.Glob(fsys, "**/*.cast")
	if err != nil {
		return nil, fmt.Errorf("glob recordings: %w", err)
	}

	out := make([]Info, 0, len(matches))
	for _, name := range matches {
		st, err := iofs.Stat(fsys, name)
		if err != nil {
			continue
		}
		out = append(out, Info{
			Path:      filepath.Join(m.basePath, filepath.FromSlash(name)),
			SessionID: sessionFromName(filepath.Base(name)),
			Size:      st.Size(),
			ModTime:   st.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Path > out[j].Path
		}
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

// Prune deletes all but the keep newest recordings that are not being
// written, and returns how many were removed.
func (m *Manager) Prune(keep int) (int, error) {
	all, err := m.List()
	if err != nil {
		return 0, err
	}

	active := make(map[string]bool)
	m.mu.RLock()
	for _, r := range m.recorders {
		active[r.Path()] = true
	}
	m.mu.RUnlock()

	removed := 0
	kept := 0
	for _, info := range all {
		if active[info.Path] {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := m.fs.Remove(info.Path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", info.Path, err)
		}
		removed++
	}
	return removed, nil
}

// sessionFromName extracts the session id from <session>_<date>_<time>_<id>.cast.
func sessionFromName(name string) string {
	name = strings.TrimSuffix(name, ".cast")
	parts := strings.Split(name, "_")
	if len(parts) < 4 {
		return name
	}
	return strings.Join(parts[:len(parts)-3], "_")
}
