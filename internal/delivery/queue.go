package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// Queue is the durable FIFO of deliveries that may be lost without harm to
// the final score, such as aborted-session records. Entries leave the queue
// only after the recorder acknowledges them.
type Queue struct {
	scope  store.Scope
	key    config.Key
	sender Sender
	probe  Probe
	log    zerolog.Logger

	// mu guards read-modify-write of the stored list; flushMu keeps one
	// Flush running at a time.
	mu      sync.Mutex
	flushMu sync.Mutex
}

// NewQueue creates a Queue persisted in scope under the offline queue key.
func NewQueue(scope store.Scope, sender Sender, probe Probe, log zerolog.Logger) *Queue {
	if probe == nil {
		probe = AlwaysOnline
	}
	return &Queue{
		scope:  scope,
		key:    config.StorageKey.OfflineQueue,
		sender: sender,
		probe:  probe,
		log:    log.With().Str("component", "offline_queue").Logger(),
	}
}

// Enqueue appends a new entry and persists the queue.
func (q *Queue) Enqueue(ctx context.Context, action string, fields map[string]string) (model.Entry, error) {
	e := model.Entry{
		ID:        uuid.NewString(),
		Action:    action,
		Fields:    fields,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return e, err
	}
	entries = append(entries, e)
	if err := store.SetJSON(ctx, q.scope, q.key, entries); err != nil {
		return e, fmt.Errorf("persist offline queue: %w", err)
	}

	q.log.Info().Str("entry_id", e.ID).Str("action", action).Int("pending", len(entries)).Msg("Entry queued")
	return e, nil
}

// Pending returns the queued entries in delivery order.
func (q *Queue) Pending(ctx context.Context) ([]model.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.Pending(ctx)
	return len(entries), err
}

// Flush delivers entries from the head while the recorder acknowledges them.
// It stops at the first failure and leaves the rest for the next Flush.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	if !q.probe.Online(ctx) {
		return 0, ErrOffline
	}

	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		head, ok, err := q.head(ctx)
		if err != nil || !ok {
			return delivered, err
		}

		if err := q.sender.Send(ctx, head); err != nil {
			q.log.Warn().Err(err).Str("entry_id", head.ID).Int("delivered", delivered).Msg("Flush stopped")
			return delivered, err
		}

		if err := q.remove(ctx, head.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
}

func (q *Queue) head(ctx context.Context) (model.Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil || len(entries) == 0 {
		return model.Entry{}, false, err
	}
	return entries[0], true, nil
}

// remove drops the head if it is still id.
func (q *Queue) remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 || entries[0].ID != id {
		return nil
	}
	entries = entries[1:]

	if len(entries) == 0 {
		err = q.scope.Delete(ctx, q.key.String())
	} else {
		err = store.SetJSON(ctx, q.scope, q.key, entries)
	}
	if err != nil {
		return fmt.Errorf("persist offline queue: %w", err)
	}
	return nil
}

func (q *Queue) load(ctx context.Context) ([]model.Entry, error) {
	var entries []model.Entry
	err := store.GetJSON(ctx, q.scope, q.key, &entries)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	return entries, nil
}
