package engine

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// Observe feeds one environment signal to the violation detector.
func (c *Controller) Observe(sig model.Signal) {
	c.handle(c.detector.Observe(sig, c.d.Sched.Now()))
}

// ObserveResize feeds a viewport size to the detector.
func (c *Controller) ObserveResize(width, height int) {
	c.handle(c.detector.Resize(width, height, c.d.Sched.Now()))
}

func (c *Controller) handle(ev violation.Event, counted bool) {
	if !counted {
		return
	}
	c.saveViolationCount()
	c.log.Warn().
		Str("signal", string(ev.Notice.Signal)).
		Int("count", ev.Notice.Count).
		Str("state", string(ev.Notice.State)).
		Msg("Violation")

	if ev.Guard {
		c.d.Listener.OnGuard()
	}
	c.d.Listener.OnNotice(ev.Notice)

	if c.noticeStop != nil {
		c.noticeStop()
		c.noticeStop = nil
	}

	if ev.Terminate {
		c.violated = true
		if c.terminateStop == nil {
			c.terminateStop = c.d.Sched.AfterFunc(c.d.Policy.TerminationDelay, func() {
				c.terminateStop = nil
				c.Finalize(ReasonPolicyViolation)
			})
		}
		return
	}
	c.noticeStop = c.d.Sched.AfterFunc(time.Second, c.noticeTick)
}

// The session clock keeps running while a warning is shown.
func (c *Controller) noticeTick() {
	c.noticeStop = nil
	n, done := c.detector.Tick()
	c.d.Listener.OnNotice(n)
	if done {
		c.d.Listener.OnNoticeCleared()
		return
	}
	c.noticeStop = c.d.Sched.AfterFunc(time.Second, c.noticeTick)
}

// DismissNotice is the examinee choosing to continue before the warning
// countdown ends.
func (c *Controller) DismissNotice() {
	if !c.detector.NoticeActive() {
		return
	}
	guard := c.detector.Dismiss()
	if c.noticeStop != nil {
		c.noticeStop()
		c.noticeStop = nil
	}
	if guard {
		c.d.Listener.OnGuard()
	}
	c.d.Listener.OnNoticeCleared()
}

// Signals returns a violation.Handler that is safe to call from a platform
// goroutine: every signal is posted onto the session loop.
func (c *Controller) Signals() violation.Handler {
	return &postingHandler{c: c}
}

type postingHandler struct {
	c *Controller
}

func (h *postingHandler) OnFocusLost() {
	h.c.d.Sched.Post(func() { h.c.Observe(model.SignalFocusLost) })
}

func (h *postingHandler) OnBackNavigation() {
	h.c.d.Sched.Post(func() { h.c.Observe(model.SignalBackNavigation) })
}

func (h *postingHandler) OnReloadAttempt() {
	h.c.d.Sched.Post(func() { h.c.Observe(model.SignalReloadAttempt) })
}

func (h *postingHandler) OnResize(width, height int) {
	h.c.d.Sched.Post(func() { h.c.ObserveResize(width, height) })
}

func (h *postingHandler) OnScreenshotKey() {
	h.c.d.Sched.Post(func() { h.c.Observe(model.SignalScreenshotKey) })
}
