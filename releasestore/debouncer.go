package releasestore

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of writes into a single flush.
//
// Every trigger cancels the pending flush and schedules a new one delay
// later. After maxDelays consecutive deferrals the next trigger schedules an
// immediate flush instead, which later triggers cannot push back.
// Each scheduled timer carries the generation it was created under; a timer
// whose generation is no longer current does nothing when it fires.
type debouncer struct {
	mu sync.Mutex

	delay     time.Duration
	maxDelays int
	flush     func()

	timer      *time.Timer
	deferrals  int
	generation uint64
	immediate  bool
	closed     bool
}

func newDebouncer(delay time.Duration, maxDelays int, flush func()) *debouncer {
	return &debouncer{
		delay:     delay,
		maxDelays: maxDelays,
		flush:     flush,
	}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	// nothing pending
	if d.timer == nil {
		d.deferrals = 0
		d.schedule(d.delay)
		return
	}

	// a forced flush is on its way and will pick this write up
	if d.immediate {
		return
	}

	// If the timer has already fired, its callback belongs to an old
	// generation once we reschedule below and will be ignored.
	d.timer.Stop()

	if d.deferrals >= d.maxDelays {
		d.deferrals = 0
		d.immediate = true
		d.schedule(0)
		return
	}

	d.deferrals++
	d.schedule(d.delay)
}

func (d *debouncer) schedule(after time.Duration) {
	d.generation++
	gen := d.generation
	d.timer = time.AfterFunc(after, func() { d.fire(gen) })
}

func (d *debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.generation {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.deferrals = 0
	d.immediate = false
	d.mu.Unlock()

	d.flush()
}

// close cancels any pending flush. Later triggers are ignored.
func (d *debouncer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
