package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/engine"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/questionset"
	"github.com/stemsi/exstem-proctor/internal/store"
)

type fakeSource struct {
	payload *model.SourcePayload
	err     error
	// gate, when set, holds every fetch until it is closed.
	gate chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Fetch(context.Context, string) (*model.SourcePayload, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.payload, f.err
}

func (f *fakeSource) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type okSender struct {
	mu    sync.Mutex
	calls []model.Entry
}

func (s *okSender) Send(_ context.Context, e model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, e)
	return nil
}

type syncListener struct {
	engine.NopListener
	mu        sync.Mutex
	questions []engine.View
	notices   []model.Notice
}

func (l *syncListener) OnQuestion(v engine.View) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.questions = append(l.questions, v)
}

func (l *syncListener) OnNotice(n model.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func strp(s string) *string { return &s }

func payload(codes ...string) *model.SourcePayload {
	p := &model.SourcePayload{DefaultTimerSeconds: 30}
	for _, c := range codes {
		p.Questions = append(p.Questions, model.RawQuestion{Code: c, Question: "prompt " + c, Answer: strp("a")})
	}
	return p
}

type fixture struct {
	svc      *SessionService
	sessions *store.Memory
	sender   *okSender
	tokens   *TokenService
}

func newFixture(t *testing.T, src *fakeSource) *fixture {
	t.Helper()
	f := &fixture{
		sessions: store.NewMemory(),
		sender:   &okSender{},
		tokens:   NewTokenService("test-secret", time.Hour),
	}
	device := store.NewMemory()
	queue := delivery.NewQueue(device, f.sender, delivery.AlwaysOnline, zerolog.Nop())
	f.svc = NewSessionService(SessionDeps{
		Sessions:            f.sessions,
		Device:              device,
		Source:              src,
		Sender:              f.sender,
		Probe:               delivery.AlwaysOnline,
		Queue:               queue,
		Tokens:              f.tokens,
		Policy:              config.DefaultPolicy(),
		DefaultTimerSeconds: 30,
		FinalRetryInterval:  10 * time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.svc.Shutdown(ctx)
	})
	return f
}

var alice = model.Identity{LastName: "Doe", FirstName: "Alice", Code: "math1"}

func TestStart_IssuesTokenForSession(t *testing.T) {
	f := newFixture(t, &fakeSource{payload: payload("Q1", "Q2")})
	ctx := context.Background()

	sess, token, err := f.svc.Start(ctx, alice, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Identity.Code != "MATH1" {
		t.Errorf("code = %q, want upper-cased", sess.Identity.Code)
	}

	claims, err := f.tokens.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.SessionID != sess.ID {
		t.Errorf("claims session = %q, want %q", claims.SessionID, sess.ID)
	}
	if claims.Identity() != sess.Identity {
		t.Errorf("claims identity = %+v", claims.Identity())
	}

	got, err := f.svc.Lookup(sess.ID)
	if err != nil || got != sess {
		t.Fatalf("Lookup = %v, %v", got, err)
	}
}

func TestStart_ReturnsLiveSession(t *testing.T) {
	f := newFixture(t, &fakeSource{payload: payload("Q1", "Q2")})
	ctx := context.Background()

	first, _, err := f.svc.Start(ctx, alice, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	again := model.Identity{LastName: " Doe ", FirstName: "Alice", Code: " MATH1"}
	second, _, err := f.svc.Start(ctx, again, false)
	if err != nil {
		t.Fatalf("Start again: %v", err)
	}
	if first != second {
		t.Error("second start opened a new session")
	}
	if n := f.svc.Active(); n != 1 {
		t.Errorf("Active = %d, want 1", n)
	}
}

func TestStart_ConcurrentStartsShareOneSession(t *testing.T) {
	src := &fakeSource{payload: payload("Q1", "Q2"), gate: make(chan struct{})}
	f := newFixture(t, src)

	const n = 4
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, _, err := f.svc.Start(context.Background(), alice, false)
			errs[i] = err
			if err == nil {
				ids[i] = sess.ID
			}
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.fetches() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(src.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Start %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("Start %d opened session %s, want %s", i, ids[i], ids[0])
		}
	}
	if got := src.fetches(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	if f.svc.Active() != 1 {
		t.Errorf("active = %d, want 1", f.svc.Active())
	}
}

func TestStart_FailedOpenReleasesIdentity(t *testing.T) {
	src := &fakeSource{err: &delivery.NetworkError{Op: "fetch", Err: errors.New("refused")}}
	f := newFixture(t, src)

	if _, _, err := f.svc.Start(context.Background(), alice, false); err == nil {
		t.Fatal("Start succeeded with an unreachable source")
	}
	src.err = nil
	src.payload = payload("Q1")
	if _, _, err := f.svc.Start(context.Background(), alice, false); err != nil {
		t.Fatalf("Start after recovery: %v", err)
	}
}

func TestStart_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		id   model.Identity
		want func(error) bool
	}{
		{
			name: "missing identity",
			src:  &fakeSource{payload: payload("Q1")},
			id:   model.Identity{LastName: "Doe", Code: "X"},
			want: func(err error) bool { return errors.Is(err, ErrInvalidIdentity) },
		},
		{
			name: "empty set",
			src:  &fakeSource{payload: &model.SourcePayload{}},
			id:   alice,
			want: func(err error) bool {
				var dq *questionset.DataQualityError
				return errors.As(err, &dq) && dq.Empty
			},
		},
		{
			name: "duplicate codes",
			src:  &fakeSource{payload: payload("Q1", "001")},
			id:   alice,
			want: func(err error) bool {
				var dq *questionset.DataQualityError
				return errors.As(err, &dq) && dq.Duplicates["Q001"] == 2
			},
		},
		{
			name: "source unreachable",
			src:  &fakeSource{err: &delivery.NetworkError{Op: "fetch", Err: errors.New("refused")}},
			id:   alice,
			want: func(err error) bool {
				var ne *delivery.NetworkError
				return errors.As(err, &ne)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.src)
			_, _, err := f.svc.Start(context.Background(), tt.id, false)
			if err == nil || !tt.want(err) {
				t.Fatalf("Start err = %v", err)
			}
			if n := f.svc.Active(); n != 0 {
				t.Errorf("Active = %d, want 0", n)
			}
		})
	}
}

func TestAttach_ReplaysAndCountsReattachAsReload(t *testing.T) {
	f := newFixture(t, &fakeSource{payload: payload("Q1", "Q2", "Q3")})
	ctx := context.Background()

	sess, _, err := f.svc.Start(ctx, alice, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := &syncListener{}
	detach, err := sess.Attach(ctx, first)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	first.mu.Lock()
	replayed := len(first.questions)
	first.mu.Unlock()
	if replayed != 1 {
		t.Fatalf("replayed %d questions, want 1", replayed)
	}
	detach()

	second := &syncListener{}
	if _, err := sess.Attach(ctx, second); err != nil {
		t.Fatalf("Attach again: %v", err)
	}

	var count int
	_ = sess.Do(ctx, func(c *engine.Controller) error {
		count = c.ViolationCount()
		return nil
	})
	if count != 1 {
		t.Errorf("violation count = %d, want 1", count)
	}
	second.mu.Lock()
	defer second.mu.Unlock()
	if len(second.notices) == 0 || second.notices[0].Signal != model.SignalReloadAttempt {
		t.Errorf("notices = %+v, want a reload notice", second.notices)
	}
}

func TestSession_CompletesAndLeavesRegistry(t *testing.T) {
	f := newFixture(t, &fakeSource{payload: payload("Q1")})
	ctx := context.Background()

	sess, _, err := f.svc.Start(ctx, alice, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Do(ctx, func(c *engine.Controller) error { return c.Submit("a") }); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.svc.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := f.svc.Lookup(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Lookup after finish = %v, want ErrSessionNotFound", err)
	}

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	if len(f.sender.calls) != 1 || f.sender.calls[0].Fields["score"] != "1/1" {
		t.Errorf("sent = %+v", f.sender.calls)
	}
}

func TestShutdown_LeavesSnapshotForRestart(t *testing.T) {
	f := newFixture(t, &fakeSource{payload: payload("Q1", "Q2")})
	ctx := context.Background()

	sess, _, err := f.svc.Start(ctx, alice, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	key := config.SessionNamespace(sess.Identity.Key()) + config.StorageKey.RuntimeState.String()
	if _, err := f.sessions.Get(ctx, key); err != nil {
		t.Errorf("snapshot missing after shutdown: %v", err)
	}
	if _, _, err := f.svc.Start(ctx, alice, false); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start after shutdown = %v, want ErrShuttingDown", err)
	}
}
