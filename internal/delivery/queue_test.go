package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// fakeSender fails the calls whose 1-based index is in failOn.
type fakeSender struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
	sent   []model.Entry
}

func (f *fakeSender) Send(_ context.Context, e model.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn[f.calls] {
		return &NetworkError{Op: e.Action, Err: errors.New("connection reset")}
	}
	f.sent = append(f.sent, e)
	return nil
}

func enqueueN(t *testing.T, q *Queue, n int) []model.Entry {
	t.Helper()
	var out []model.Entry
	for i := 0; i < n; i++ {
		e, err := q.Enqueue(context.Background(), model.ActionRecordPartial, map[string]string{"n": string(rune('a' + i))})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestQueue_FlushDeliversInOrder(t *testing.T) {
	s := &fakeSender{}
	q := NewQueue(store.NewMemory(), s, nil, zerolog.Nop())
	queued := enqueueN(t, q, 3)

	n, err := q.Flush(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	for i := range queued {
		if s.sent[i].ID != queued[i].ID {
			t.Fatalf("delivery %d out of order", i)
		}
	}
	if left, _ := q.Len(context.Background()); left != 0 {
		t.Errorf("Len = %d, want 0", left)
	}
}

func TestQueue_FlushStopsOnFirstFailure(t *testing.T) {
	s := &fakeSender{failOn: map[int]bool{2: true}}
	mem := store.NewMemory()
	q := NewQueue(mem, s, nil, zerolog.Nop())
	queued := enqueueN(t, q, 3)

	n, err := q.Flush(context.Background())
	if err == nil || n != 1 {
		t.Fatalf("Flush = %d, %v; want 1 and an error", n, err)
	}
	pending, _ := q.Pending(context.Background())
	if len(pending) != 2 || pending[0].ID != queued[1].ID || pending[1].ID != queued[2].ID {
		t.Fatalf("pending = %+v", pending)
	}

	// A new Queue over the same scope sees the persisted remainder.
	q2 := NewQueue(mem, s, nil, zerolog.Nop())
	n, err = q2.Flush(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("second Flush = %d, %v", n, err)
	}
	if mem.Len() != 0 {
		t.Errorf("queue key not removed when empty")
	}
}

func TestQueue_FlushOffline(t *testing.T) {
	s := &fakeSender{}
	offline := ProbeFunc(func(context.Context) bool { return false })
	q := NewQueue(store.NewMemory(), s, offline, zerolog.Nop())
	enqueueN(t, q, 1)

	if _, err := q.Flush(context.Background()); !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}
	if s.calls != 0 {
		t.Errorf("sender called %d times while offline", s.calls)
	}
}

func TestQueue_ConcurrentEnqueueKeepsEveryEntry(t *testing.T) {
	q := NewQueue(store.NewMemory(), &fakeSender{}, nil, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Enqueue(context.Background(), model.ActionRecordPartial, nil); err != nil {
				t.Errorf("Enqueue: %v", err)
			}
		}()
	}
	wg.Wait()

	if n, _ := q.Len(context.Background()); n != 20 {
		t.Errorf("Len = %d, want 20", n)
	}
}
