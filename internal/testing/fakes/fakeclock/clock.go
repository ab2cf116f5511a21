// Package fakeclock provides a controllable Clock implementation for testing.
package fakeclock

import (
	"sync"
	"time"

	"github.com/acolita/shellpilot/internal/ports"
)

// Clock is a fake clock that can be controlled in tests.
// Sleep returns immediately; timers and After channels fire on Advance.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
	tickers []*Ticker
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	fn       func()
	stopped  bool
	fired    bool
}

// New creates a new fake clock initialized to the given time.
func New(initial time.Time) *Clock {
	return &Clock{current: initial}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep is a no-op. Use Advance to simulate time passing.
func (c *Clock) Sleep(d time.Duration) {}

// After returns a channel that receives the time once Advance moves past d.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &waiter{deadline: c.current.Add(d), ch: ch})
	return ch
}

// AfterFunc schedules f to run once Advance moves past d.
func (c *Clock) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	w := &waiter{deadline: c.current.Add(d), fn: f}
	if d <= 0 {
		w.fired = true
		c.mu.Unlock()
		go f()
		return &timer{clock: c, w: w}
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return &timer{clock: c, w: w}
}

// NewTicker returns a fake ticker. Ticks are delivered with Tick.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	t := &Ticker{clock: c, ch: make(chan time.Time, 1)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// Tickers returns the tickers created so far, oldest first.
func (c *Clock) Tickers() []*Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Ticker(nil), c.tickers...)
}

// Advance moves the clock forward by d, firing any expired waiters.
// AfterFunc callbacks run synchronously, in deadline order, after the
// clock lock is released.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due []*waiter
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if !now.Before(w.deadline) {
			w.fired = true
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	for _, w := range due {
		if w.ch != nil {
			select {
			case w.ch <- now:
			default:
			}
		}
		if w.fn != nil {
			w.fn()
		}
	}
}

// Pending returns the number of timers that have not fired yet.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// Set sets the clock to a specific time without firing waiters.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

type timer struct {
	clock *Clock
	w     *waiter
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.w.fired || t.w.stopped {
		return false
	}
	t.w.stopped = true
	return true
}

// Ticker is a fake ticker driven by Tick.
type Ticker struct {
	clock   *Clock
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

// C returns the channel on which ticks are delivered.
func (t *Ticker) C() <-chan time.Time {
	return t.ch
}

// Stop turns off the ticker.
func (t *Ticker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Tick manually sends a tick.
func (t *Ticker) Tick() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()

	if !stopped {
		select {
		case t.ch <- t.clock.Now():
		default:
		}
	}
}

// Ensure Clock implements ports.Clock.
var _ ports.Clock = (*Clock)(nil)
