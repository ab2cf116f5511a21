// Package fakefs provides an in-memory FileSystem implementation for testing.
package fakefs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/acolita/shellpilot/internal/ports"
)

// FS is an in-memory filesystem for testing.
type FS struct {
	mu      sync.RWMutex
	files   map[string][]byte
	dirs    map[string]bool
	homeDir string
	env     map[string]string

	// WriteErr, when set, is returned by WriteFile and OpenFile.
	WriteErr error
}

// New creates a new in-memory filesystem.
func New() *FS {
	return &FS{
		files:   make(map[string][]byte),
		dirs:    map[string]bool{"/": true},
		homeDir: "/home/test",
		env:     make(map[string]string),
	}
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, ok := f.files[filepath.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFile writes data to the named file. Parent directories are created.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.WriteErr != nil {
		return f.WriteErr
	}
	name = filepath.Clean(name)
	f.dirs[filepath.Dir(name)] = true
	f.files[name] = append([]byte(nil), data...)
	return nil
}

// OpenFile opens a file for writing. O_EXCL on an existing file fails;
// O_TRUNC clears it; otherwise writes append.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	name = filepath.Clean(name)
	_, exists := f.files[name]
	switch {
	case exists && flag&os.O_EXCL != 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	case !exists && flag&os.O_CREATE == 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	case !exists || flag&os.O_TRUNC != 0:
		f.files[name] = nil
	}
	return &handle{fs: f, name: name}, nil
}

// MkdirAll records the directory.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[filepath.Clean(path)] = true
	return nil
}

// Remove removes the named file.
func (f *FS) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if _, ok := f.files[name]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(f.files, name)
	return nil
}

// UserHomeDir returns the configured home directory.
func (f *FS) UserHomeDir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.homeDir, nil
}

// Getenv returns a variable set with SetEnv.
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// --- Test helpers ---

// AddFile adds a file to the fake filesystem.
func (f *FS) AddFile(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = filepath.Clean(name)
	f.dirs[filepath.Dir(name)] = true
	f.files[name] = append([]byte(nil), data...)
}

// SetHomeDir sets the home directory returned by UserHomeDir.
func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homeDir = dir
}

// SetEnv sets an environment variable.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// HasDir reports whether MkdirAll or a write created dir.
func (f *FS) HasDir(dir string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirs[filepath.Clean(dir)]
}

// Files returns a sorted list of all file paths.
func (f *FS) Files() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	paths := make([]string, 0, len(f.files))
	for path := range f.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

type handle struct {
	fs     *FS
	name   string
	closed bool
}

func (h *handle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return 0, os.ErrClosed
	}
	h.fs.files[h.name] = append(h.fs.files[h.name], p...)
	return len(p), nil
}

func (h *handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.closed = true
	return nil
}

func (h *handle) Name() string { return h.name }

// Ensure FS implements ports.FileSystem.
var _ ports.FileSystem = (*FS)(nil)
