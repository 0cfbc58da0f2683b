// Package timer is the session countdown: Start, Tick, Expired, Cancel.
package timer

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/scheduler"
)

// Timer counts down once per second on a scheduler. All methods must be
// called from the scheduler's loop.
type Timer struct {
	sched scheduler.Scheduler

	allotted  int
	remaining int
	running   bool

	// gen invalidates ticks armed by an earlier Start.
	gen  uint64
	stop func()

	onTick    func(remaining int)
	onExpired func()
}

// New creates an idle Timer. onTick receives every decremented value;
// onExpired fires once per Start when the countdown reaches zero.
func New(sched scheduler.Scheduler, onTick func(remaining int), onExpired func()) *Timer {
	if onTick == nil {
		onTick = func(int) {}
	}
	if onExpired == nil {
		onExpired = func() {}
	}
	return &Timer{sched: sched, onTick: onTick, onExpired: onExpired}
}

// Start resets the countdown to seconds, cancelling any running one.
func (t *Timer) Start(seconds int) {
	t.Cancel()
	if seconds < 0 {
		seconds = 0
	}
	t.allotted = seconds
	t.remaining = seconds
	t.running = true
	t.arm()
}

// Cancel stops counting without raising Expired.
func (t *Timer) Cancel() {
	t.gen++
	t.running = false
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}

// Remaining returns the seconds left on the current countdown.
func (t *Timer) Remaining() int { return t.remaining }

// Allotted returns the seconds the current countdown started with.
func (t *Timer) Allotted() int { return t.allotted }

// Running reports whether a countdown is active.
func (t *Timer) Running() bool { return t.running }

func (t *Timer) arm() {
	gen := t.gen
	t.stop = t.sched.AfterFunc(time.Second, func() { t.tick(gen) })
}

func (t *Timer) tick(gen uint64) {
	if gen != t.gen || !t.running {
		return
	}
	if t.remaining > 0 {
		t.remaining--
	}
	t.onTick(t.remaining)

	// onTick may have restarted or cancelled the timer.
	if gen != t.gen {
		return
	}
	if t.remaining <= 0 {
		t.running = false
		t.stop = nil
		t.onExpired()
		return
	}
	t.arm()
}
