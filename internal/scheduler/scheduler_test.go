package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestManual_AdvanceFiresTimersInOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []string

	m.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	m.AfterFunc(time.Second, func() {
		got = append(got, "a")
		m.Post(func() { got = append(got, "a-posted") })
	})
	stop := m.AfterFunc(1500*time.Millisecond, func() { got = append(got, "stopped") })
	stop()

	m.Advance(time.Second)
	if len(got) != 2 || got[0] != "a" || got[1] != "a-posted" {
		t.Fatalf("after 1s got %v", got)
	}

	m.Advance(time.Second)
	if len(got) != 3 || got[2] != "b" {
		t.Fatalf("after 2s got %v", got)
	}
	if m.PendingTimers() != 0 {
		t.Errorf("PendingTimers = %d, want 0", m.PendingTimers())
	}
	if !m.Now().Equal(time.Unix(2, 0)) {
		t.Errorf("Now = %v", m.Now())
	}
}

func TestManual_RearmingTimer(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	ticks := 0
	var arm func()
	arm = func() {
		m.AfterFunc(time.Second, func() {
			ticks++
			arm()
		})
	}
	arm()

	m.Advance(5 * time.Second)
	if ticks != 5 {
		t.Errorf("ticks = %d, want 5", ticks)
	}
}

func TestManual_GoPostsResult(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got error = context.Canceled
	m.Go(func() error { return nil }, func(err error) { got = err })
	if got == nil {
		t.Fatal("then ran before Drain")
	}
	m.Drain()
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestLoop_RunsInPostingOrder(t *testing.T) {
	l := NewLoop(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	if err := l.Call(ctx, func() {}); err != nil {
		t.Fatalf("Call: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 {
		t.Fatalf("ran %d closures, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order broken at %d: %v", i, got)
		}
	}
}

func TestLoop_AfterFuncAndGo(t *testing.T) {
	l := NewLoop(zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	stopped := false
	stop := l.AfterFunc(10*time.Millisecond, func() { stopped = true })
	stop()

	result := make(chan error, 1)
	l.Go(func() error { return context.DeadlineExceeded }, func(err error) { result <- err })

	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("timer never fired")
	}
	if err := <-result; err != context.DeadlineExceeded {
		t.Errorf("Go result = %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	_ = l.Call(ctx, func() {})
	if stopped {
		t.Error("stopped timer ran")
	}
}

func TestLoop_SurvivesPanic(t *testing.T) {
	l := NewLoop(zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go l.Run(ctx)

	l.Post(func() { panic("boom") })
	ran := false
	if err := l.Call(ctx, func() { ran = true }); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !ran {
		t.Error("loop did not continue after panic")
	}

	l.Stop()
	<-l.Done()
	if err := l.Call(context.Background(), func() {}); err == nil {
		t.Error("Call on stopped loop returned nil")
	}
}
