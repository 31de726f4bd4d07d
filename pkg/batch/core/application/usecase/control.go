package usecase

import (
	"context"
	"sync"
	"time"
)

// Control carries the pause and stop signals of one run. Signals are observed
// at batch boundaries only.
type Control struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
	wake    chan struct{}
}

// NewControl returns a Control in the running state.
func NewControl() *Control {
	return &Control{wake: make(chan struct{})}
}

// Pause requests a pause. It has no effect once stopped.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.paused = true
	}
}

// Resume clears a pause.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		c.signal()
	}
}

// Stop requests the run to end. A paused run wakes up and ends.
func (c *Control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		c.paused = false
		c.signal()
	}
}

// IsPaused reports whether a pause is pending or in effect.
func (c *Control) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// IsStopped reports whether a stop was requested.
func (c *Control) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// awaitResume blocks while paused, polling every interval. It returns false
// when the run was stopped or ctx ended.
func (c *Control) awaitResume(ctx context.Context, interval time.Duration) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		paused, stopped, wake := c.paused, c.stopped, c.wake
		c.mu.Unlock()
		if stopped {
			return false
		}
		if !paused {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-wake:
		case <-ticker.C:
		}
	}
}

// signal wakes every waiter. Callers hold c.mu.
func (c *Control) signal() {
	close(c.wake)
	c.wake = make(chan struct{})
}
