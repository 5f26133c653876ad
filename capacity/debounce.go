package capacity

import (
	"sync"
	"time"
)

// Debouncer runs a function once a key has been quiet for its delay.
// Scheduling a key again before it fires restarts the wait and replaces the
// function, so a burst of edits runs only the last one.
type Debouncer struct {
	mu      sync.Mutex
	timers  map[string]*debounceTimer
	stopped bool
}

type debounceTimer struct {
	timer *time.Timer
	seq   uint64
}

func NewDebouncer() *Debouncer {
	return &Debouncer{timers: make(map[string]*debounceTimer)}
}

// Schedule (re)arms key. fn runs on its own goroutine.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	t, ok := d.timers[key]
	if !ok {
		t = &debounceTimer{}
		d.timers[key] = t
	} else if t.timer != nil {
		t.timer.Stop()
	}
	t.seq++
	seq := t.seq
	t.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		cur, ok := d.timers[key]
		// A Stop that lost the race against the timer firing leaves a stale
		// callback behind; the sequence number catches it.
		if !ok || cur.seq != seq || d.stopped {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops a pending key without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.timer.Stop()
		delete(d.timers, key)
	}
}

// Pending reports whether key is armed.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Stop cancels everything; later Schedule calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, t := range d.timers {
		t.timer.Stop()
		delete(d.timers, key)
	}
}
