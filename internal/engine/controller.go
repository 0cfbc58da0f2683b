// Package engine is the session controller: it sequences questions, runs the
// countdown, escalates violations and delivers the final record.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/scheduler"
	"github.com/stemsi/exstem-proctor/internal/store"
	"github.com/stemsi/exstem-proctor/internal/timer"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// checkpointEvery is how many ticks pass between snapshot writes that only
// record the countdown.
const checkpointEvery = 5

// Deps are the collaborators of a Controller.
type Deps struct {
	Sched scheduler.Scheduler
	// Store scopes must already be namespaced to this examinee.
	Store store.Adapter
	// Sender delivers the final record; Retry repeats it until acknowledged.
	Sender delivery.Sender
	Retry  *delivery.Retry
	// Queue receives partial records on abort. It may be shared by sessions.
	Queue    *delivery.Queue
	Policy   config.Policy
	Handheld bool
	Listener Listener
	Log      zerolog.Logger
}

// Controller owns one examinee's session state. All methods except Signals
// must run on the session's scheduler loop.
type Controller struct {
	ctx      context.Context
	identity model.Identity
	d        Deps
	log      zerolog.Logger

	set        *model.QuestionSet
	answerKey  map[string]string
	main       []model.Question
	skip       []model.Question
	answers    map[string]string
	skipped    map[string]bool
	position   int
	phase      model.Phase
	fixedTotal int
	startTime  time.Time
	endTime    time.Time

	timer  *timer.Timer
	global bool
	ticks  int

	detector      *violation.Detector
	noticeStop    func()
	terminateStop func()
	violated      bool

	summary     model.Summary
	retryCancel func()
	done        chan struct{}
	closed      bool
}

// New creates a Controller in the LOADING phase. ctx bounds the session's
// storage and delivery I/O.
func New(ctx context.Context, identity model.Identity, d Deps) *Controller {
	if d.Listener == nil {
		d.Listener = NopListener{}
	}
	c := &Controller{
		ctx:      ctx,
		identity: identity,
		d:        d,
		log:      d.Log.With().Str("component", "session").Str("exam_code", identity.Code).Logger(),
		answers:  make(map[string]string),
		skipped:  make(map[string]bool),
		phase:    model.PhaseLoading,
		done:     make(chan struct{}),
	}
	c.timer = timer.New(d.Sched, c.onTick, c.onExpired)
	c.detector = violation.NewDetector(d.Policy, c.loadViolationCount(), d.Handheld)
	return c
}

// Done is closed when the session has ended and its final record, if any,
// has been acknowledged.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() model.Phase { return c.phase }

// Identity returns the examinee the session belongs to.
func (c *Controller) Identity() model.Identity { return c.identity }

// Progress returns (answered, fixedTotal).
func (c *Controller) Progress() model.Progress {
	return model.Progress{Answered: len(c.answers), Total: c.fixedTotal}
}

// SkipCount returns how many questions are set aside.
func (c *Controller) SkipCount() int { return len(c.skip) }

// Skipped returns the codes in the skipped batch, in skip order.
func (c *Controller) Skipped() []string {
	codes := make([]string, len(c.skip))
	for i, q := range c.skip {
		codes[i] = q.Code
	}
	return codes
}

// ViolationCount returns the session's violation count.
func (c *Controller) ViolationCount() int { return c.detector.Count() }

// Escalation returns the escalation state.
func (c *Controller) Escalation() model.EscalationState { return c.detector.State() }

// Summary returns the outcome once the session is FINISHED.
func (c *Controller) Summary() model.Summary { return c.summary }

// CurrentQuestion returns the question being presented.
func (c *Controller) CurrentQuestion() (View, bool) {
	if !c.phase.Active() || c.position >= len(c.main) {
		return View{}, false
	}
	q := c.main[c.position]
	return View{
		Code:      q.Code,
		Prompt:    q.Prompt,
		Position:  c.position,
		Remaining: c.timer.Remaining(),
		Phase:     c.phase,
		SkipCount: len(c.skip),
		CanSkip:   c.phase == model.PhaseMain && !c.skipped[q.Code],
		Draft:     c.Draft(q.Code),
	}, true
}

// Advance presents mainQueue[index] and restarts the per-question countdown.
func (c *Controller) Advance(index int) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if index < 0 || index >= len(c.main) {
		return ErrNoSuchQuestion
	}
	c.position = index
	c.present(-1)
	return nil
}

// Submit records answer for the current question and moves on.
func (c *Controller) Submit(answer string) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if c.position >= len(c.main) {
		return ErrNoSuchQuestion
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = NoAnswer
	}
	q := c.main[c.position]
	c.answers[q.Code] = answer
	c.skip = removeCode(c.skip, q.Code)
	c.clearDraft(q.Code)
	c.position++

	c.log.Debug().Str("code", q.Code).Int("answered", len(c.answers)).Msg("Answer recorded")
	c.next()
	return nil
}

// Skip sets the current question aside with the time it has left.
func (c *Controller) Skip() error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if c.phase != model.PhaseMain {
		return ErrSkipUnavailable
	}
	if c.position >= len(c.main) {
		return ErrNoSuchQuestion
	}

	q := c.main[c.position]
	if c.skipped[q.Code] {
		return ErrAlreadySkipped
	}
	q.Remaining = c.captureRemaining(q)
	c.main = append(c.main[:c.position:c.position], c.main[c.position+1:]...)
	c.skip = append(c.skip, q)
	c.skipped[q.Code] = true

	c.log.Debug().Str("code", q.Code).Int("remaining", q.Remaining).Msg("Question skipped")
	c.next()
	return nil
}

// RecallSkipped pulls code back from the skipped batch and presents it at the
// current position, pushing the in-progress question one slot later.
func (c *Controller) RecallSkipped(code string) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if c.phase != model.PhaseMain {
		return ErrSkipUnavailable
	}
	idx := indexOf(c.skip, code)
	if idx < 0 {
		return ErrNotSkipped
	}

	q := c.skip[idx]
	c.skip = append(c.skip[:idx:idx], c.skip[idx+1:]...)
	if c.position < len(c.main) {
		c.main[c.position].Remaining = c.captureRemaining(c.main[c.position])
	}
	c.main = insertAt(c.main, c.position, q)
	c.present(-1)
	return nil
}

// next presents the question at position, or handles the end of the batch.
// Either way the resulting state is persisted.
func (c *Controller) next() {
	if c.position < len(c.main) {
		c.present(-1)
		return
	}

	if len(c.skip) == 0 {
		c.Finalize(ReasonCompleted)
		return
	}

	c.main = c.skip
	c.skip = nil
	c.position = 0
	c.phase = model.PhaseSkippedReview
	c.log.Info().Int("questions", len(c.main)).Msg("Entering skipped review")
	c.present(-1)
}

// present shows main[position] and persists the snapshot once the countdown
// belongs to it. remaining >= 0 overrides the allotment when resuming.
func (c *Controller) present(remaining int) {
	q := c.main[c.position]
	if !c.global {
		seconds := q.Allotment()
		if remaining >= 0 {
			seconds = remaining
		}
		c.timer.Start(seconds)
	}

	c.persist()

	if v, ok := c.CurrentQuestion(); ok {
		c.d.Listener.OnQuestion(v)
	}
	c.d.Listener.OnProgress(c.Progress())
}

// captureRemaining is the time a question keeps when it leaves the screen.
// Under a global countdown questions have no clock of their own, so they keep
// their allotment.
func (c *Controller) captureRemaining(q model.Question) int {
	if c.global || q.Code != c.currentCode() {
		return q.Allotment()
	}
	return c.timer.Remaining()
}

func (c *Controller) currentCode() string {
	if c.position < len(c.main) {
		return c.main[c.position].Code
	}
	return ""
}

func (c *Controller) onTick(remaining int) {
	c.d.Listener.OnTick(remaining)
	c.ticks++
	if c.ticks%checkpointEvery == 0 {
		c.persist()
	}
}

func (c *Controller) onExpired() {
	if !c.phase.Active() {
		return
	}
	if c.global {
		c.log.Info().Msg("Global countdown expired")
		c.Finalize(ReasonTimeExpired)
		return
	}
	if err := c.Submit(NoAnswer); err != nil {
		c.log.Warn().Err(err).Msg("Timed out question not submitted")
	}
}

func (c *Controller) checkActive() error {
	switch {
	case c.phase == model.PhaseLoading:
		return ErrNotStarted
	case !c.phase.Active():
		return ErrSessionFinished
	}
	return nil
}

func (c *Controller) finish() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func removeCode(qs []model.Question, code string) []model.Question {
	if i := indexOf(qs, code); i >= 0 {
		return append(qs[:i:i], qs[i+1:]...)
	}
	return qs
}

func indexOf(qs []model.Question, code string) int {
	for i, q := range qs {
		if q.Code == code {
			return i
		}
	}
	return -1
}

func insertAt(qs []model.Question, i int, q model.Question) []model.Question {
	out := make([]model.Question, 0, len(qs)+1)
	out = append(out, qs[:i]...)
	out = append(out, q)
	return append(out, qs[i:]...)
}
