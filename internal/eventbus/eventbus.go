// Package eventbus fans session notifications out to subscribers.
package eventbus

import (
	"sync"
	"time"
)

// EventType identifies a notification.
type EventType string

const (
	EventSessionCreated       EventType = "session_created"
	EventSessionReady         EventType = "session_ready"
	EventCommandQueued        EventType = "command_queued"
	EventCommandDispatched    EventType = "command_dispatched"
	EventCommandCompleted     EventType = "command_completed"
	EventCommandTimedOut      EventType = "command_timed_out"
	EventCommandFailed        EventType = "command_failed"
	EventPasswordRequested    EventType = "password_requested"
	EventConfirmationAnswered EventType = "confirmation_answered"
	EventSessionExited        EventType = "session_exited"
)

// Event is one notification. Seq increases monotonically per bus.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Command   string    `json:"command,omitempty"`
	Output    string    `json:"output,omitempty"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

const (
	subscriberBuffer = 64
	defaultHistory   = 256
)

// Bus delivers events to every subscriber. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	seq     uint64
	history []Event
	limit   int
	dropped uint64
	closed  bool
}

// New creates a bus that keeps the last 256 events for polling.
func New() *Bus {
	return NewWithHistory(defaultHistory)
}

// NewWithHistory creates a bus that keeps the last n events.
func NewWithHistory(n int) *Bus {
	if n < 0 {
		n = 0
	}
	return &Bus{subs: make(map[int]chan Event), limit: n}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish stamps the event with a sequence number and delivers it.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return e
	}

	b.seq++
	e.Seq = b.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	if b.limit > 0 {
		b.history = append(b.history, e)
		if len(b.history) > b.limit {
			b.history = b.history[len(b.history)-b.limit:]
		}
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped++
		}
	}
	return e
}

// Since returns retained events with Seq greater than seq, oldest first.
func (b *Bus) Since(seq uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	for _, e := range b.history {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Dropped returns how many deliveries were skipped because a subscriber
// was not keeping up.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
