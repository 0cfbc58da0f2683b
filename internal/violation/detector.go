// Package violation turns environment signals into the warn, warn, terminate
// escalation. It holds no timers; callers pass the current time in.
package violation

import (
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Event is the outcome of a counted violation.
type Event struct {
	Notice model.Notice
	// Terminate is set when the count has passed the warning allowance.
	Terminate bool
	// Guard asks the platform to re-assert its navigation guard.
	Guard bool
}

// Detector owns the escalation state for one session. It is not safe for
// concurrent use; the session loop serializes calls.
type Detector struct {
	policy   config.Policy
	handheld bool

	active      bool
	count       int
	terminated  bool
	lockedUntil time.Time

	// Warning notice currently shown.
	noticeActive bool
	countdown    int
	notice       model.Notice
	fromBackNav  bool

	width, height int
	sized         bool
}

// NewDetector restores a detector with the persisted violation count.
// Resize signals are ignored when handheld is true.
func NewDetector(policy config.Policy, count int, handheld bool) *Detector {
	if count < 0 {
		count = 0
	}
	d := &Detector{policy: policy, count: count, handheld: handheld}
	d.terminated = count > policy.WarningsBeforeTermination
	return d
}

// SetActive gates detection; signals outside an active exam are ignored.
func (d *Detector) SetActive(active bool) { d.active = active }

// Count is the monotonic violation count for the session.
func (d *Detector) Count() int { return d.count }

// State maps the count onto the escalation ladder.
func (d *Detector) State() model.EscalationState {
	switch {
	case d.terminated:
		return model.EscalationTerminated
	case d.count == 0:
		return model.EscalationClean
	case d.count == 1:
		return model.EscalationWarned1
	default:
		return model.EscalationWarned2
	}
}

// Observe registers a signal. It returns false when the signal was
// suppressed: the exam is inactive, the lock window is open, or the session
// has already been terminated.
func (d *Detector) Observe(sig model.Signal, now time.Time) (Event, bool) {
	if !d.active || d.terminated || now.Before(d.lockedUntil) {
		return Event{}, false
	}

	d.count++
	ev := Event{Guard: sig == model.SignalBackNavigation}

	if d.count > d.policy.WarningsBeforeTermination {
		d.terminated = true
		d.noticeActive = false
		d.countdown = 0
		ev.Terminate = true
		ev.Notice = model.Notice{
			State:   model.EscalationTerminated,
			Count:   d.count,
			Message: "Third violation detected: your exam will be submitted and session ended. Contact your instructor for disputes.",
			Signal:  sig,
		}
		d.notice = ev.Notice
		return ev, true
	}

	d.lockedUntil = now.Add(d.policy.LockWindow)
	d.noticeActive = true
	d.countdown = d.policy.WarningSeconds
	d.fromBackNav = sig == model.SignalBackNavigation
	ev.Notice = model.Notice{
		State:     d.State(),
		Count:     d.count,
		Remaining: d.countdown,
		Message:   d.message(sig),
		Signal:    sig,
	}
	d.notice = ev.Notice
	return ev, true
}

// Resize compares the new viewport with the last one and raises a resize
// signal when either side moved by more than the policy threshold.
func (d *Detector) Resize(width, height int, now time.Time) (Event, bool) {
	if d.handheld {
		return Event{}, false
	}
	if !d.sized {
		d.width, d.height, d.sized = width, height, true
		return Event{}, false
	}

	dw, dh := abs(width-d.width), abs(height-d.height)
	d.width, d.height = width, height
	if dw <= d.policy.ResizeThreshold && dh <= d.policy.ResizeThreshold {
		return Event{}, false
	}
	return d.Observe(model.SignalResize, now)
}

// NoticeActive reports whether a warning countdown is on screen.
func (d *Detector) NoticeActive() bool { return d.noticeActive }

// Notice returns the last notice raised.
func (d *Detector) Notice() model.Notice { return d.notice }

// Tick advances the warning countdown by one second. It returns the updated
// notice and whether the countdown has finished.
func (d *Detector) Tick() (model.Notice, bool) {
	if !d.noticeActive {
		return d.notice, true
	}
	if d.countdown > 0 {
		d.countdown--
	}
	d.notice.Remaining = d.countdown
	if d.countdown == 0 {
		d.noticeActive = false
		d.lockedUntil = time.Time{}
		return d.notice, true
	}
	return d.notice, false
}

// Dismiss ends the warning countdown early. It reports whether the notice
// came from a back navigation, in which case the guard must be re-asserted.
func (d *Detector) Dismiss() (guard bool) {
	if !d.noticeActive {
		return false
	}
	guard = d.fromBackNav
	d.noticeActive = false
	d.countdown = 0
	d.fromBackNav = false
	d.notice.Remaining = 0
	return guard
}

func (d *Detector) message(sig model.Signal) string {
	switch sig {
	case model.SignalBackNavigation:
		return "Back navigation detected: leaving the exam will be counted as a behavior warning."
	case model.SignalReloadAttempt:
		return "Reload detected: continuing will resume your in-progress exam. Exiting will submit/abort."
	case model.SignalResize:
		return "Screen size changed: this is considered a violation."
	case model.SignalScreenshotKey:
		return "Screenshot detected. This is a violation."
	default:
		return fmt.Sprintf("Behavior warning %d/%d: You switched away or performed a disallowed action. Resuming in %ds...",
			d.count, d.policy.WarningsBeforeTermination, d.countdown)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
