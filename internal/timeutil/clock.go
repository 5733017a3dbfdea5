// Package timeutil provides a testable abstraction over the time operations
// used to pace the servo loop.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// MockClock is a manually controlled clock for testing.
//
// By default After advances the clock by the requested duration and fires
// immediately, so paced loops run without real waiting. A held clock only
// fires After channels when Advance reaches their deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	hold    bool
	waits   []time.Duration
	sleeps  []time.Duration
	pending []*mockTimer
}

type mockTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMockClock creates an auto-advancing MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// NewHeldClock creates a MockClock whose After channels wait for Advance.
func NewHeldClock(t time.Time) *MockClock {
	return &MockClock{now: t, hold: true}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward and fires expired After channels.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var keep []*mockTimer
	var fire []*mockTimer
	for _, t := range c.pending {
		if now.Before(t.deadline) {
			keep = append(keep, t)
		} else {
			fire = append(fire, t)
		}
	}
	c.pending = keep
	c.mu.Unlock()

	for _, t := range fire {
		t.ch <- now
	}
}

// Sleep records the sleep duration and advances the clock by it.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// After returns a channel that receives the time once d has elapsed.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	t := &mockTimer{deadline: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.pending = append(c.pending, t)
	hold := c.hold
	c.mu.Unlock()

	if !hold {
		c.Advance(d)
	}
	return t.ch
}

// Waits returns the durations passed to After.
func (c *MockClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// Pending returns the number of After channels that have not fired.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
