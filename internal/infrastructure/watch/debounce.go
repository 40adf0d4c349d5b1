// Package watch provides filesystem watching with debounce support.
package watch

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid events into a single callback invocation.
type Debouncer struct {
	window   time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	callback func()
}

// NewDebouncer creates a debouncer with the given window duration.
func NewDebouncer(window time.Duration, callback func()) *Debouncer {
	return &Debouncer{
		window:   window,
		callback: callback,
	}
}

// Trigger resets the debounce timer. The callback fires after the window
// elapses with no further triggers.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.callback)
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
}

// Batcher collects change events and flushes them once the window is quiet.
// Repeated events for a path keep only the latest change type.
type Batcher struct {
	mu      sync.Mutex
	pending map[string]ChangeEvent
	order   []string
	flush   func([]ChangeEvent)
	d       *Debouncer
}

func NewBatcher(window time.Duration, flush func([]ChangeEvent)) *Batcher {
	b := &Batcher{pending: make(map[string]ChangeEvent), flush: flush}
	b.d = NewDebouncer(window, b.fire)
	return b
}

// Add records an event and restarts the window.
func (b *Batcher) Add(e ChangeEvent) {
	b.mu.Lock()
	if _, seen := b.pending[e.Path]; !seen {
		b.order = append(b.order, e.Path)
	}
	b.pending[e.Path] = e
	b.mu.Unlock()
	b.d.Trigger()
}

// Stop drops pending events without flushing them.
func (b *Batcher) Stop() {
	b.d.Stop()
	b.mu.Lock()
	b.pending = make(map[string]ChangeEvent)
	b.order = nil
	b.mu.Unlock()
}

func (b *Batcher) fire() {
	b.mu.Lock()
	if len(b.order) == 0 {
		b.mu.Unlock()
		return
	}
	batch := make([]ChangeEvent, 0, len(b.order))
	for _, path := range b.order {
		batch = append(batch, b.pending[path])
	}
	b.pending = make(map[string]ChangeEvent)
	b.order = nil
	b.mu.Unlock()

	b.flush(batch)
}
