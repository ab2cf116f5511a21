package ports

import (
	"io"
	"io/fs"
)

// FileSystem abstracts file operations for testing.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// OpenFile opens the named file with the given flags for writing.
	OpenFile(name string, flag int, perm fs.FileMode) (FileHandle, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// UserHomeDir returns the current user's home directory.
	UserHomeDir() (string, error)

	// Getenv retrieves the value of the environment variable named by the key.
	Getenv(key string) string
}

// FileHandle is a writable open file.
type FileHandle interface {
	io.WriteCloser

	// Name returns the path the file was opened with.
	Name() string
}
