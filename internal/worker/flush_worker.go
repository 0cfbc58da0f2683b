package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/delivery"
)

// Flusher is the part of the offline queue the worker drives.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

// FlushWorker periodically probes connectivity and drains the offline queue
// into the recorder, so partial records left by aborted sessions go out once
// the network is back.
type FlushWorker struct {
	queue    Flusher
	interval time.Duration
	log      zerolog.Logger
}

// NewFlushWorker creates a new FlushWorker.
func NewFlushWorker(queue Flusher, interval time.Duration, log zerolog.Logger) *FlushWorker {
	return &FlushWorker{
		queue:    queue,
		interval: interval,
		log:      log.With().Str("component", "flush_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *FlushWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.flush(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// One last attempt before exit.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flush(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *FlushWorker) flush(ctx context.Context) {
	sent, err := w.queue.Flush(ctx)
	switch {
	case errors.Is(err, delivery.ErrOffline):
		w.log.Debug().Msg("Offline, flush postponed")
	case err != nil && ctx.Err() == nil:
		w.log.Warn().Err(err).Int("sent", sent).Msg("Flush stopped early")
	case sent > 0:
		w.log.Info().Int("sent", sent).Msg("Offline records delivered")
	}
}
