package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Finalize ends the session, scores it and delivers the final record until
// the recorder acknowledges it. Session storage is cleared only after that.
// Calling it again once the session is FINISHED does nothing.
func (c *Controller) Finalize(reason string) {
	if c.phase == model.PhaseFinished || c.phase == model.PhaseLoading {
		return
	}
	c.finalizeAt(reason, c.d.Sched.Now())
}

func (c *Controller) finalizeAt(reason string, end time.Time) {
	c.stopAll()
	c.phase = model.PhaseFinished
	if end.IsZero() {
		end = c.d.Sched.Now()
	}
	c.endTime = end

	c.summary = Score(c.answers, c.answerKey, c.fixedTotal)
	c.summary.Violated = c.violated
	c.summary.Reason = reason

	c.log.Info().
		Str("score", c.summary.ScoreText()).
		Bool("violated", c.violated).
		Str("reason", reason).
		Msg("Session finalized")

	// Keep the answers until the record is acknowledged.
	c.persist()

	rec := model.FinalRecord{
		Identity:  c.identity,
		Score:     c.summary.ScoreText(),
		Correct:   c.summary.CorrectList,
		Mistakes:  c.summary.MistakeList,
		StartTime: c.startTime,
		EndTime:   end,
	}
	entry := model.Entry{
		ID:        uuid.NewString(),
		Action:    model.ActionRecordResults,
		Fields:    rec.Fields(),
		CreatedAt: end,
	}

	if c.d.Retry == nil || c.d.Sender == nil {
		c.delivered()
		return
	}
	c.retryCancel = c.d.Retry.Forever(c.ctx,
		func(ctx context.Context) error { return c.d.Sender.Send(ctx, entry) },
		c.d.Listener.OnDeliveryStatus,
		c.delivered,
	)
}

func (c *Controller) delivered() {
	c.retryCancel = nil
	c.clearSession()
	c.clearDrafts()
	c.d.Listener.OnFinished(c.summary)
	c.finish()
}

// Abort ends the session without a final record. A partial record of the
// answers so far is queued for best-effort delivery.
func (c *Controller) Abort() error {
	if err := c.checkActive(); err != nil {
		return err
	}
	c.stopAll()
	c.phase = model.PhaseFinished
	c.endTime = c.d.Sched.Now()

	rec := model.PartialRecord{Identity: c.identity, Answers: c.answers, Timestamp: c.endTime}
	if c.d.Queue != nil {
		if _, err := c.d.Queue.Enqueue(c.ctx, model.ActionRecordPartial, rec.Fields()); err != nil {
			c.log.Error().Err(err).Msg("Partial record not queued")
		} else {
			queue, ctx := c.d.Queue, c.ctx
			c.d.Sched.Go(func() error {
				_, err := queue.Flush(ctx)
				return err
			}, func(err error) {
				if err != nil {
					c.log.Warn().Err(err).Msg("Partial record left in offline queue")
				}
			})
		}
	}

	c.summary = model.Summary{
		Total:    c.fixedTotal,
		Violated: c.violated,
		Aborted:  true,
		Reason:   ReasonAborted,
	}
	c.log.Info().Int("answered", len(c.answers)).Msg("Session aborted")

	c.clearSession()
	c.clearDrafts()
	c.d.Listener.OnFinished(c.summary)
	c.finish()
	return nil
}

// Close cancels pending work without finishing the session, for server
// shutdown. A retrying final record resumes from the snapshot on restart.
func (c *Controller) Close() {
	if c.retryCancel != nil {
		c.retryCancel()
		c.retryCancel = nil
	}
	if c.phase.Active() {
		c.persist()
	}
	c.stopAll()
	c.finish()
}

func (c *Controller) stopAll() {
	c.timer.Cancel()
	c.detector.SetActive(false)
	if c.noticeStop != nil {
		c.noticeStop()
		c.noticeStop = nil
	}
	if c.terminateStop != nil {
		c.terminateStop()
		c.terminateStop = nil
	}
}

// Score compares answers with the key case-insensitively. Codes answered with
// NoAnswer or left empty appear in neither list. Lists are ordered by code.
func Score(answers, key map[string]string, total int) model.Summary {
	codes := make([]string, 0, len(answers))
	for code := range answers {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	s := model.Summary{Total: total, CorrectList: []string{}, MistakeList: []string{}}
	for _, code := range codes {
		a := strings.TrimSpace(answers[code])
		if a == "" || a == NoAnswer {
			continue
		}
		if strings.EqualFold(a, strings.TrimSpace(key[code])) {
			s.Score++
			s.CorrectList = append(s.CorrectList, code+" "+a)
		} else {
			s.MistakeList = append(s.MistakeList, code+" "+a)
		}
	}
	return s
}
