// Package debounce provides the scheduler used for settled recomputation:
// coalesce triggers within a window, cancel superseded pending runs, and
// guarantee at most one in-flight run per concern. A trigger that arrives
// while a run is executing is captured and replayed after the run completes
// rather than running concurrently.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Func is the work a Debouncer schedules. The context is cancelled when the
// debouncer is closed.
type Func func(ctx context.Context)

// Debouncer coalesces bursts of Trigger calls into a single run of fn after
// the window elapses with no further triggers.
type Debouncer struct {
	window time.Duration
	fn     Func

	mu       sync.Mutex
	timer    *time.Timer
	running  bool
	rerun    bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{} // closed when no run is active, for Flush
	inflight sync.WaitGroup
}

// New creates a Debouncer running fn at most once per settled window.
func New(window time.Duration, fn Func) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		window: window,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger schedules a run after the window. A pending (not yet started) run
// is superseded; an in-flight run causes exactly one follow-up run once it
// finishes, so the newest state always wins.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.running {
		d.rerun = true
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.closed || d.running {
		// A concurrent fire is impossible with a single timer; this guards
		// the close race.
		d.mu.Unlock()
		return
	}
	d.running = true
	d.inflight.Add(1)
	d.mu.Unlock()

	d.fn(d.ctx)

	d.mu.Lock()
	d.running = false
	rerun := d.rerun && !d.closed
	d.rerun = false
	if rerun {
		d.timer = time.AfterFunc(d.window, d.fire)
	}
	d.mu.Unlock()
	d.inflight.Done()
}

// Flush runs any pending work immediately and waits until nothing is pending
// or in flight, including a follow-up run queued while fn was executing.
// Intended for tests and for checkout intent, where the caller needs settled
// state now rather than after the window.
func (d *Debouncer) Flush() {
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			d.inflight.Wait()
			return
		}
		pending := d.timer != nil && d.timer.Stop()
		if pending {
			d.timer = nil
		}
		running := d.running
		d.mu.Unlock()

		if pending {
			d.fire()
			continue
		}
		if !running {
			return
		}
		// The run may queue a rerun; loop to pick its timer up.
		d.inflight.Wait()
	}
}

// Close cancels pending and future runs. The context passed to fn is
// cancelled so an in-flight run can abort its network call.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.cancel()
}
