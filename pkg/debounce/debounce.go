// Package debounce implements trailing-edge debouncing: a scheduled call
// fires only after the window has elapsed with no further calls, using the
// most recently supplied function.
package debounce

import (
	"sync"
	"time"
)

// Trailing coalesces bursts of calls into a single invocation at the
// trailing edge of the window. Each Call cancels and reschedules the
// pending timer, so only the last call within a window fires.
type Trailing struct {
	window time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
}

// NewTrailing returns a debouncer with the given window. A zero or
// negative window still defers execution to a separate timer goroutine,
// which keeps the calling path non-reentrant.
func NewTrailing(window time.Duration) *Trailing {
	return &Trailing{window: window}
}

// Call schedules fn, replacing any still-pending function and restarting
// the window.
func (t *Trailing) Call(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = fn
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.window, t.fire)
}

func (t *Trailing) fire() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.timer = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Cancel drops any pending invocation.
func (t *Trailing) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
}

// Flush runs the pending invocation immediately, if there is one, instead
// of waiting out the window.
func (t *Trailing) Flush() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Window reports the configured debounce window.
func (t *Trailing) Window() time.Duration {
	return t.window
}
