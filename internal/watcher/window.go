package watcher

import (
	"sync"
	"time"
)

// Window is a cancellable debounce timer. Each Touch pushes the deadline
// to now+duration; when the deadline passes with no further Touch, the
// settle callback runs exactly once on its own goroutine.
type Window struct {
	duration time.Duration
	onSettle func()

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	pending  bool
	deadline time.Time
}

// NewWindow creates an idle window.
func NewWindow(d time.Duration, onSettle func()) *Window {
	return &Window{duration: d, onSettle: onSettle}
}

// Touch records a change and restarts the quiet period.
func (w *Window) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = true
	w.deadline = time.Now().Add(w.duration)
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
	}
	gen := w.gen
	w.timer = time.AfterFunc(w.duration, func() { w.fire(gen) })
}

// fire runs the callback unless the window was touched or cancelled after
// the timer for gen was armed.
func (w *Window) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.deadline = time.Time{}
	cb := w.onSettle
	w.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Cancel stops the timer without clearing the pending flag, so a caller
// that commits immediately still sees the accumulated change.
func (w *Window) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.deadline = time.Time{}
}

// Flush takes the pending flag, returning whether changes were pending.
func (w *Window) Flush() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.pending
	w.pending = false
	return p
}

// Pending reports whether changes have accumulated since the last Flush.
func (w *Window) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// Armed reports whether a settle callback is scheduled.
func (w *Window) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

// Deadline returns the scheduled settle time, or the zero time when idle.
func (w *Window) Deadline() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline
}
