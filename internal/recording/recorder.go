// Package recording writes session transcripts in asciicast v2 format.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acolita/shellpilot/internal/ports"
)

// Recorder records terminal I/O in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock
	events    int
}

// Header is the asciicast v2 header.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// Meta describes a recording.
type Meta struct {
	SessionID string
	Width     int
	Height    int
	Title     string
	Term      string
}

// NewRecorder creates a recording file under dir and writes its header.
// File names are <session>_<time>_<id>.cast, so re-created sessions never
// collide.
func NewRecorder(dir string, meta Meta, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	now := clock.Now()
	id := strings.SplitN(uuid.NewString(), "-", 2)[0]
	name := fmt.Sprintf("%s_%s_%s.cast", safeName(meta.SessionID), now.UTC().Format("20060102_150405"), id)

	file, err := fs.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	term := meta.Term
	if term == "" {
		term = "xterm-color"
	}
	header := Header{
		Version:   2,
		Width:     meta.Width,
		Height:    meta.Height,
		Timestamp: now.Unix(),
		Title:     meta.Title,
		Env:       map[string]string{"TERM": term},
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(headerJSON, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Recorder{file: file, startTime: now, clock: clock}, nil
}

// safeName keeps session ids usable as file name prefixes.
func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

// RecordOutput records terminal output.
func (r *Recorder) RecordOutput(data string) error {
	return r.record("o", data)
}

// RecordInput records input sent to the terminal. Use RecordMaskedInput
// for secrets.
func (r *Recorder) RecordInput(data string) error {
	return r.record("i", data)
}

// RecordMaskedInput records length asterisks in place of a secret.
func (r *Recorder) RecordMaskedInput(length int) error {
	return r.record("i", strings.Repeat("*", length))
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	eventJSON, err := json.Marshal(Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	r.events++
	return nil
}

// Events returns how many events were written.
func (r *Recorder) Events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

// Close closes the file. Later records are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Path returns the path to the recording file.
func (r *Recorder) Path() string {
	return r.file.Name()
}
