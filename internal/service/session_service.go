package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/engine"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/questionset"
	"github.com/stemsi/exstem-proctor/internal/scheduler"
	"github.com/stemsi/exstem-proctor/internal/store"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// Common session errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidIdentity = errors.New("last name, first name and exam code are required")
	ErrShuttingDown    = errors.New("server is shutting down")
)

// QuestionSource fetches the raw question payload for an exam code.
type QuestionSource interface {
	Fetch(ctx context.Context, examCode string) (*model.SourcePayload, error)
}

// SessionDeps are the collaborators shared by every session on this node.
type SessionDeps struct {
	// Sessions is the session-lifetime backend; Device the device-lifetime one.
	Sessions store.Scope
	Device   store.Scope
	Source   QuestionSource
	Sender   delivery.Sender
	Probe    delivery.Probe
	Queue    *delivery.Queue
	Tokens   *TokenService

	Policy              config.Policy
	DefaultTimerSeconds int
	FinalRetryInterval  time.Duration
}

// SessionService keeps the registry of live sessions, one event loop each.
type SessionService struct {
	d   SessionDeps
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	byID  map[string]*Session
	byKey map[string]*Session
	// opening holds identities whose session is being opened; the channel
	// closes when that attempt ends.
	opening map[string]chan struct{}
}

// NewSessionService creates a new SessionService. Sessions live until they
// finish or Shutdown is called.
func NewSessionService(d SessionDeps, log zerolog.Logger) *SessionService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		d:       d,
		log:     log.With().Str("component", "session_service").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		byID:    make(map[string]*Session),
		byKey:   make(map[string]*Session),
		opening: make(map[string]chan struct{}),
	}
}

// Start opens a session for id, or returns the live one the examinee already
// has. A stored snapshot is resumed. The returned token authenticates the
// websocket.
func (s *SessionService) Start(ctx context.Context, id model.Identity, handheld bool) (*Session, string, error) {
	id = normalizeIdentity(id)
	if id.LastName == "" || id.FirstName == "" || id.Code == "" {
		return nil, "", ErrInvalidIdentity
	}
	if s.ctx.Err() != nil {
		return nil, "", ErrShuttingDown
	}

	key := id.Key()
	for {
		s.mu.Lock()
		if live, ok := s.byKey[key]; ok {
			s.mu.Unlock()
			token, err := s.d.Tokens.Issue(live.ID, id)
			return live, token, err
		}
		wait, busy := s.opening[key]
		if !busy {
			s.opening[key] = make(chan struct{})
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		// Another request is opening this examinee's session; both share its
		// stored seed and snapshot, so only one may build a controller.
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	sess, err := s.open(ctx, id, handheld)

	s.mu.Lock()
	done := s.opening[key]
	delete(s.opening, key)
	if err == nil {
		s.byID[sess.ID] = sess
		s.byKey[key] = sess
	}
	s.mu.Unlock()
	close(done)

	if err != nil {
		return nil, "", err
	}

	s.wg.Add(1)
	go s.reap(sess)

	token, err := s.d.Tokens.Issue(sess.ID, id)
	if err != nil {
		return nil, "", err
	}
	return sess, token, nil
}

func (s *SessionService) open(ctx context.Context, id model.Identity, handheld bool) (*Session, error) {
	sessionScope := store.Namespaced(s.d.Sessions, config.SessionNamespace(id.Key()))
	deviceScope := store.Namespaced(s.d.Device, config.DeviceNamespace(id.Key()))

	seed, err := engine.SessionSeed(ctx, sessionScope)
	if err != nil {
		return nil, fmt.Errorf("session seed: %w", err)
	}

	payload, err := s.d.Source.Fetch(ctx, id.Code)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}

	set, report, err := questionset.Build(payload, seed, s.d.DefaultTimerSeconds)
	if err != nil {
		s.log.Error().Err(err).Str("exam_code", id.Code).Msg("Question set rejected")
		return nil, err
	}
	if len(report.Gaps) > 0 {
		s.log.Warn().Strs("gaps", report.Gaps).Str("exam_code", id.Code).Msg("Missing question codes filled with placeholders")
	}

	sessionID := uuid.New().String()
	log := logger.ForSession(s.log, sessionID, id.Code)

	loop := scheduler.NewLoop(log)
	go loop.Run(s.ctx)

	sess := &Session{ID: sessionID, Identity: id, loop: loop, relay: &relay{}}
	sess.ctrl = engine.New(s.ctx, id, engine.Deps{
		Sched:    loop,
		Store:    store.Adapter{Session: sessionScope, Device: deviceScope},
		Sender:   s.d.Sender,
		Retry:    delivery.NewRetry(loop, s.d.FinalRetryInterval, s.d.Probe, log),
		Queue:    s.d.Queue,
		Policy:   s.d.Policy,
		Handheld: handheld,
		Listener: sess.relay,
		Log:      log,
	})

	var resumeErr error
	if err := loop.Call(ctx, func() { resumeErr = sess.ctrl.Resume(set) }); err != nil {
		loop.Stop()
		return nil, fmt.Errorf("start session: %w", err)
	}
	if resumeErr != nil {
		loop.Stop()
		return nil, fmt.Errorf("start session: %w", resumeErr)
	}

	log.Info().
		Int("questions", len(set.Questions)).
		Int("global_timer", set.GlobalTimerSeconds).
		Bool("handheld", handheld).
		Msg("Session started")
	return sess, nil
}

// reap drops a session from the registry once it is done.
func (s *SessionService) reap(sess *Session) {
	defer s.wg.Done()
	<-sess.ctrl.Done()

	s.mu.Lock()
	delete(s.byID, sess.ID)
	if s.byKey[sess.Identity.Key()] == sess {
		delete(s.byKey, sess.Identity.Key())
	}
	s.mu.Unlock()

	sess.loop.Stop()
	s.log.Debug().Str("session_id", sess.ID).Msg("Session removed")
}

// Lookup returns the live session with the given ID.
func (s *SessionService) Lookup(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Active returns how many sessions are live.
func (s *SessionService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// QueueLen returns the number of entries waiting in the offline queue.
func (s *SessionService) QueueLen(ctx context.Context) (int, error) {
	if s.d.Queue == nil {
		return 0, nil
	}
	return s.d.Queue.Len(ctx)
}

// Shutdown snapshots and closes every live session. Final records still
// being retried resume from their snapshot on the next start.
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	live := make([]*Session, 0, len(s.byID))
	for _, sess := range s.byID {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.close(ctx)
	}
	s.cancel()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		s.log.Info().Int("sessions", len(live)).Msg("Sessions closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func normalizeIdentity(id model.Identity) model.Identity {
	return model.Identity{
		LastName:  strings.TrimSpace(id.LastName),
		FirstName: strings.TrimSpace(id.FirstName),
		Code:      strings.ToUpper(strings.TrimSpace(id.Code)),
	}
}

// Session is one live examinee session.
type Session struct {
	ID       string
	Identity model.Identity

	loop  *scheduler.Loop
	ctrl  *engine.Controller
	relay *relay

	// attaches is touched only on the loop.
	attaches int
}

// Do runs fn on the session loop and returns its error.
func (s *Session) Do(ctx context.Context, fn func(c *engine.Controller) error) error {
	var err error
	if cerr := s.loop.Call(ctx, func() { err = fn(s.ctrl) }); cerr != nil {
		return cerr
	}
	return err
}

// Signals returns the handler a platform adapter reports to.
func (s *Session) Signals() violation.Handler { return s.ctrl.Signals() }

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.ctrl.Done() }

// Attach routes session events to l and replays the current question.
// Attaching again while the session is in progress counts as a reload.
// The returned detach snapshots the session and stops routing to l.
func (s *Session) Attach(ctx context.Context, l engine.Listener) (detach func(), err error) {
	err = s.loop.Call(ctx, func() {
		s.attaches++
		s.relay.sink = l

		if v, ok := s.ctrl.CurrentQuestion(); ok {
			l.OnQuestion(v)
			l.OnProgress(s.ctrl.Progress())
		}
		if s.attaches > 1 && s.ctrl.Phase().Active() {
			s.ctrl.Observe(model.SignalReloadAttempt)
		}
	})
	if err != nil {
		return nil, err
	}

	return func() {
		s.loop.Post(func() {
			if s.relay.sink == l {
				s.relay.sink = nil
			}
			s.ctrl.Persist()
		})
	}, nil
}

func (s *Session) close(ctx context.Context) {
	if err := s.loop.Call(ctx, s.ctrl.Close); err != nil {
		s.loop.Stop()
	}
}

// relay forwards controller events to whichever listener is attached. It is
// only used on the session loop.
type relay struct {
	sink engine.Listener
}

func (r *relay) OnQuestion(v engine.View) {
	if r.sink != nil {
		r.sink.OnQuestion(v)
	}
}

func (r *relay) OnTick(remaining int) {
	if r.sink != nil {
		r.sink.OnTick(remaining)
	}
}

func (r *relay) OnProgress(p model.Progress) {
	if r.sink != nil {
		r.sink.OnProgress(p)
	}
}

func (r *relay) OnNotice(n model.Notice) {
	if r.sink != nil {
		r.sink.OnNotice(n)
	}
}

func (r *relay) OnNoticeCleared() {
	if r.sink != nil {
		r.sink.OnNoticeCleared()
	}
}

func (r *relay) OnGuard() {
	if r.sink != nil {
		r.sink.OnGuard()
	}
}

func (r *relay) OnDeliveryStatus(st delivery.Status) {
	if r.sink != nil {
		r.sink.OnDeliveryStatus(st)
	}
}

func (r *relay) OnFinished(sum model.Summary) {
	if r.sink != nil {
		r.sink.OnFinished(sum)
	}
}
