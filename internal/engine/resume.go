package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// snapshotVersion is bumped whenever Snapshot changes incompatibly.
const snapshotVersion = 1

// Resume starts the session on a freshly fetched set. A saved snapshot whose
// codes match the set is restored; any other snapshot is discarded and the
// session starts from the first question.
func (c *Controller) Resume(set *model.QuestionSet) error {
	if c.phase != model.PhaseLoading {
		return ErrSessionFinished
	}
	c.set = set
	c.answerKey = set.AnswerKey()
	c.global = set.GlobalTimerSeconds > 0
	c.fixedTotal = len(set.Questions)

	snap, err := c.loadSnapshot()
	if err == nil {
		if err = c.restore(snap); err == nil {
			c.log.Info().Int("position", c.position).Int("answered", len(c.answers)).
				Str("phase", string(c.phase)).Msg("Session resumed")
			return c.begin(snap)
		}
		c.log.Warn().Err(err).Msg("Discarding saved session")
		c.deleteSession(config.StorageKey.RuntimeState)
	} else if !errors.Is(err, store.ErrNotFound) {
		c.log.Warn().Err(err).Msg("Saved session unreadable, starting fresh")
	}

	c.startFresh()
	return c.begin(nil)
}

func (c *Controller) startFresh() {
	c.main = slices.Clone(c.set.Questions)
	c.skip = nil
	c.answers = make(map[string]string)
	c.skipped = make(map[string]bool)
	c.position = 0
	c.phase = model.PhaseMain
	c.startTime = c.d.Sched.Now()
}

// begin activates timers and detection after state is in place.
func (c *Controller) begin(snap *model.Snapshot) error {
	c.detector.SetActive(true)

	if snap != nil && snap.Phase == model.PhaseFinished {
		// Delivery of the final record was interrupted.
		c.violated = snap.Violated
		c.finalizeAt(snap.Reason, snap.EndTime)
		return nil
	}

	if c.global {
		seconds := c.set.GlobalTimerSeconds
		if snap != nil && snap.GlobalRemaining > 0 {
			seconds = snap.GlobalRemaining
		}
		c.timer.Start(seconds)
	}

	if c.position >= len(c.main) {
		c.next()
	} else {
		remaining := -1
		if snap != nil && !c.global && snap.RemainingSeconds > 0 {
			remaining = snap.RemainingSeconds
		}
		c.present(remaining)
	}

	if c.phase.Active() && c.detector.State() == model.EscalationTerminated {
		c.violated = true
		c.Finalize(ReasonPolicyViolation)
	}
	return nil
}

// restore validates snap against the current set and loads it.
func (c *Controller) restore(snap *model.Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: version %d", ErrSnapshotMismatch, snap.Version)
	}
	if !slices.Equal(snap.QuestionCodes, c.set.Codes()) {
		return ErrSnapshotMismatch
	}

	main, err := c.rebuild(snap.MainQueue)
	if err != nil {
		return err
	}
	skip, err := c.rebuild(snap.SkipQueue)
	if err != nil {
		return err
	}
	for code := range snap.Answers {
		if _, ok := c.set.Lookup(code); !ok {
			return fmt.Errorf("%w: answer for unknown code %s", ErrSnapshotMismatch, code)
		}
	}
	if snap.Position < 0 || snap.Position > len(main) {
		return fmt.Errorf("%w: position %d", ErrSnapshotMismatch, snap.Position)
	}
	if snap.Phase != model.PhaseMain && snap.Phase != model.PhaseSkippedReview && snap.Phase != model.PhaseFinished {
		return fmt.Errorf("%w: phase %q", ErrSnapshotMismatch, snap.Phase)
	}

	c.main = main
	c.skip = skip
	c.answers = make(map[string]string, len(snap.Answers))
	for k, v := range snap.Answers {
		c.answers[k] = v
	}
	c.skipped = make(map[string]bool, len(skip))
	for _, q := range skip {
		c.skipped[q.Code] = true
	}
	c.position = snap.Position
	c.phase = snap.Phase
	if c.phase == model.PhaseFinished {
		// Finalize must run again; present it as active until then.
		c.phase = model.PhaseMain
	}
	if snap.FixedTotal > 0 {
		c.fixedTotal = snap.FixedTotal
	}
	c.startTime = snap.StartTime
	if c.startTime.IsZero() {
		c.startTime = c.d.Sched.Now()
	}
	return nil
}

// rebuild maps persisted queue entries back onto questions of the fresh set.
func (c *Controller) rebuild(sq []model.SnapshotQuestion) ([]model.Question, error) {
	out := make([]model.Question, 0, len(sq))
	seen := make(map[string]bool, len(sq))
	for _, s := range sq {
		q, ok := c.set.Lookup(s.Code)
		if !ok {
			return nil, fmt.Errorf("%w: unknown code %s", ErrSnapshotMismatch, s.Code)
		}
		if seen[s.Code] {
			return nil, fmt.Errorf("%w: code %s queued twice", ErrSnapshotMismatch, s.Code)
		}
		seen[s.Code] = true
		q.Remaining = s.Remaining
		out = append(out, q)
	}
	return out, nil
}

// Snapshot projects the session state into its persisted form.
func (c *Controller) Snapshot() model.Snapshot {
	snap := model.Snapshot{
		Version:    snapshotVersion,
		MainQueue:  project(c.main),
		SkipQueue:  project(c.skip),
		Answers:    make(map[string]string, len(c.answers)),
		Position:   c.position,
		Phase:      c.phase,
		FixedTotal: c.fixedTotal,
		StartTime:  c.startTime,
	}
	if c.set != nil {
		snap.QuestionCodes = c.set.Codes()
	}
	for k, v := range c.answers {
		snap.Answers[k] = v
	}
	if c.global {
		snap.GlobalRemaining = c.timer.Remaining()
	} else if c.timer.Running() {
		snap.RemainingSeconds = c.timer.Remaining()
	}
	if c.phase == model.PhaseFinished {
		snap.Reason = c.summary.Reason
		snap.Violated = c.violated
		snap.EndTime = c.endTime
	}
	return snap
}

func project(qs []model.Question) []model.SnapshotQuestion {
	out := make([]model.SnapshotQuestion, len(qs))
	for i, q := range qs {
		out[i] = model.SnapshotQuestion{
			Code:            q.Code,
			Prompt:          q.Prompt,
			AllottedSeconds: q.AllottedSeconds,
			Remaining:       q.Remaining,
		}
	}
	return out
}

// Persist writes the snapshot now. The platform calls it when the examinee
// disconnects.
func (c *Controller) Persist() {
	if c.phase.Active() {
		c.persist()
	}
}

// persist is best effort: a failed write is logged and the session goes on.
func (c *Controller) persist() {
	if c.d.Store.Session == nil {
		return
	}
	if err := store.SetJSON(c.ctx, c.d.Store.Session, config.StorageKey.RuntimeState, c.Snapshot()); err != nil {
		c.log.Warn().Err(err).Msg("Snapshot not saved")
	}
}

func (c *Controller) loadSnapshot() (*model.Snapshot, error) {
	if c.d.Store.Session == nil {
		return nil, store.ErrNotFound
	}
	var snap model.Snapshot
	if err := store.GetJSON(c.ctx, c.d.Store.Session, config.StorageKey.RuntimeState, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Controller) loadViolationCount() int {
	if c.d.Store.Session == nil {
		return 0
	}
	var n int
	if err := store.GetJSON(c.ctx, c.d.Store.Session, config.StorageKey.BehaviorWarnings, &n); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn().Err(err).Msg("Violation count unreadable")
		}
		return 0
	}
	return n
}

func (c *Controller) saveViolationCount() {
	if c.d.Store.Session == nil {
		return
	}
	if err := store.SetJSON(c.ctx, c.d.Store.Session, config.StorageKey.BehaviorWarnings, c.detector.Count()); err != nil {
		c.log.Warn().Err(err).Msg("Violation count not saved")
	}
}

// clearSession removes everything kept for this session.
func (c *Controller) clearSession() {
	c.deleteSession(config.StorageKey.RuntimeState)
	c.deleteSession(config.StorageKey.BehaviorWarnings)
	c.deleteSession(config.StorageKey.ShuffleSeed)
}

func (c *Controller) deleteSession(key config.Key) {
	if c.d.Store.Session == nil {
		return
	}
	if err := c.d.Store.Session.Delete(c.ctx, key.String()); err != nil {
		c.log.Warn().Err(err).Str("key", key.String()).Msg("Session key not cleared")
	}
}

// SessionSeed returns the shuffle seed stored in scope, creating one on first
// use so a restarted session sees the same question order.
func SessionSeed(ctx context.Context, scope store.Scope) (int64, error) {
	var seed int64
	err := store.GetJSON(ctx, scope, config.StorageKey.ShuffleSeed, &seed)
	if err == nil {
		return seed, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("generate seed: %w", err)
	}
	seed = int64(binary.LittleEndian.Uint64(b[:]) >> 1)
	if err := store.SetJSON(ctx, scope, config.StorageKey.ShuffleSeed, seed); err != nil {
		return 0, err
	}
	return seed, nil
}
