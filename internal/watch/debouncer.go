package watch

import (
	"time"
)

// Debouncer coalesces bursts of change events into one batch. It is owned by
// the event loop goroutine and is not safe for concurrent use: the loop calls
// Trigger for each event, selects on C, and calls Flush when C fires.
type Debouncer struct {
	interval time.Duration
	timer    *time.Timer
	armed    bool
	seen     map[string]bool
	paths    []string
}

// NewDebouncer creates a debouncer that fires after interval of quiet.
func NewDebouncer(interval time.Duration) *Debouncer {
	t := time.NewTimer(time.Hour)
	t.Stop()

	return &Debouncer{
		interval: interval,
		timer:    t,
		seen:     make(map[string]bool),
	}
}

// Trigger records path and restarts the quiet period.
func (d *Debouncer) Trigger(path string) {
	if !d.seen[path] {
		d.seen[path] = true
		d.paths = append(d.paths, path)
	}

	d.timer.Reset(d.interval)
	d.armed = true
}

// C fires once the quiet period after the last Trigger has elapsed. It is
// nil while nothing is pending, so selecting on it blocks.
func (d *Debouncer) C() <-chan time.Time {
	if !d.armed {
		return nil
	}

	return d.timer.C
}

// Flush returns the distinct paths seen since the previous Flush, in first
// seen order, and disarms the debouncer.
func (d *Debouncer) Flush() []string {
	paths := d.paths

	d.paths = nil
	d.seen = make(map[string]bool)
	d.armed = false

	return paths
}

// Pending reports whether a batch is waiting to fire.
func (d *Debouncer) Pending() bool {
	return d.armed
}

// Stop cancels any pending batch.
func (d *Debouncer) Stop() {
	d.timer.Stop()
	d.Flush()
}
