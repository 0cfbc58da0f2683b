package timer

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/scheduler"
)

type recorder struct {
	ticks   []int
	expired int
}

func newTimer(m *scheduler.Manual) (*Timer, *recorder) {
	r := &recorder{}
	return New(m, func(n int) { r.ticks = append(r.ticks, n) }, func() { r.expired++ }), r
}

func TestTimer_CountsDownAndExpiresOnce(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	tm, r := newTimer(m)

	tm.Start(3)
	if !tm.Running() || tm.Remaining() != 3 {
		t.Fatalf("after Start: running=%v remaining=%d", tm.Running(), tm.Remaining())
	}

	m.Advance(10 * time.Second)

	want := []int{2, 1, 0}
	if len(r.ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", r.ticks, want)
	}
	for i := range want {
		if r.ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", r.ticks, want)
		}
	}
	if r.expired != 1 {
		t.Errorf("expired = %d, want 1", r.expired)
	}
	if tm.Running() {
		t.Error("timer still running after expiry")
	}
	if m.PendingTimers() != 0 {
		t.Errorf("PendingTimers = %d, want 0", m.PendingTimers())
	}
}

func TestTimer_CancelSuppressesExpired(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	tm, r := newTimer(m)

	tm.Start(2)
	m.Advance(time.Second)
	tm.Cancel()
	m.Advance(5 * time.Second)

	if r.expired != 0 {
		t.Errorf("expired = %d, want 0", r.expired)
	}
	if tm.Remaining() != 1 {
		t.Errorf("Remaining = %d, want 1", tm.Remaining())
	}
}

func TestTimer_RestartReplacesCountdown(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	tm, r := newTimer(m)

	tm.Start(2)
	m.Advance(time.Second)
	tm.Start(5)
	m.Advance(2 * time.Second)

	if r.expired != 0 {
		t.Fatalf("old countdown expired after restart")
	}
	if tm.Remaining() != 3 || tm.Allotted() != 5 {
		t.Errorf("remaining=%d allotted=%d, want 3/5", tm.Remaining(), tm.Allotted())
	}
	if m.PendingTimers() != 1 {
		t.Errorf("PendingTimers = %d, want 1", m.PendingTimers())
	}
}

func TestTimer_StartZeroExpiresOnFirstTick(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	tm, r := newTimer(m)

	tm.Start(0)
	m.Advance(time.Second)
	if r.expired != 1 {
		t.Errorf("expired = %d, want 1", r.expired)
	}
}

func TestTimer_RestartFromExpiredCallback(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	var tm *Timer
	expired := 0
	tm = New(m, nil, func() {
		expired++
		if expired < 3 {
			tm.Start(1)
		}
	})

	tm.Start(1)
	m.Advance(10 * time.Second)
	if expired != 3 {
		t.Errorf("expired = %d, want 3", expired)
	}
}
