package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/scheduler"
)

// Status is the delivery progress shown to the examinee.
type Status string

const (
	StatusSubmitting   Status = "submitting"
	StatusWaiting      Status = "waiting for connection"
	StatusServerError  Status = "server error, retrying"
	StatusNetworkError Status = "network error, retrying"
	StatusSubmitted    Status = "submitted"
)

// Retry repeats one delivery on a fixed interval with no attempt limit,
// until it succeeds or is cancelled. Attempts are scheduled, never slept.
type Retry struct {
	sched    scheduler.Scheduler
	interval time.Duration
	probe    Probe
	log      zerolog.Logger
}

// NewRetry creates a Retry. A nil probe treats the network as always up.
func NewRetry(sched scheduler.Scheduler, interval time.Duration, probe Probe, log zerolog.Logger) *Retry {
	if probe == nil {
		probe = AlwaysOnline
	}
	return &Retry{
		sched:    sched,
		interval: interval,
		probe:    probe,
		log:      log.With().Str("component", "final_retry").Logger(),
	}
}

// Forever runs send until it returns nil, then calls onDone. status receives
// every progress change. Offline probes are not counted as attempts. The
// returned cancel must be called on the scheduler's loop.
func (r *Retry) Forever(ctx context.Context, send func(ctx context.Context) error, status func(Status), onDone func()) (cancel func()) {
	ctx, stopCtx := context.WithCancel(ctx)
	cancelled := false
	stopTimer := func() {}
	attempts := 0

	var attempt func()
	attempt = func() {
		if cancelled {
			return
		}
		r.sched.Go(func() error {
			if !r.probe.Online(ctx) {
				return ErrOffline
			}
			return send(ctx)
		}, func(err error) {
			if cancelled {
				return
			}
			if !errors.Is(err, ErrOffline) {
				attempts++
			}

			switch {
			case err == nil:
				r.log.Info().Int("attempts", attempts).Msg("Final record delivered")
				stopCtx()
				status(StatusSubmitted)
				onDone()
				return
			case errors.Is(err, ErrOffline):
				status(StatusWaiting)
			case IsServerSide(err):
				r.log.Warn().Err(err).Int("attempts", attempts).Msg("Recorder refused final record, retrying")
				status(StatusServerError)
			default:
				r.log.Warn().Err(err).Int("attempts", attempts).Msg("Final record delivery failed, retrying")
				status(StatusNetworkError)
			}
			stopTimer = r.sched.AfterFunc(r.interval, attempt)
		})
	}

	status(StatusSubmitting)
	attempt()

	return func() {
		cancelled = true
		stopTimer()
		stopCtx()
	}
}
