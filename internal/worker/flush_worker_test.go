package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/delivery"
)

type countingFlusher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *countingFlusher) Flush(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, f.err
}

func (f *countingFlusher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestFlushWorker_FlushesOnStartTicksAndStop(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"online", nil},
		{"offline", delivery.ErrOffline},
		{"failing", errors.New("recorder down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &countingFlusher{err: tt.err}
			w := NewFlushWorker(f, 10*time.Millisecond, zerolog.Nop())

			ctx, cancel := context.WithCancel(context.Background())
			stopped := make(chan struct{})
			go func() {
				w.Start(ctx)
				close(stopped)
			}()

			deadline := time.Now().Add(2 * time.Second)
			for f.Calls() < 3 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			before := f.Calls()
			cancel()

			select {
			case <-stopped:
			case <-time.After(2 * time.Second):
				t.Fatal("worker did not stop")
			}
			if before < 3 {
				t.Fatalf("flushes before stop = %d, want >= 3", before)
			}
			if f.Calls() <= before {
				t.Error("no final flush on stop")
			}
		})
	}
}
