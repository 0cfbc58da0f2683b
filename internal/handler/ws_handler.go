package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/engine"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/questionset"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/violation"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// outboxSize bounds events waiting for a slow client. Ticks are the bulk of
// the traffic and are dropped when the outbox is full; other events wait up
// to outboxWait for room before the connection is given up.
const (
	outboxSize = 256
	outboxWait = 2 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live session to the examinee's browser.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/stream?token=...
// Upgrades to WebSocket. The browser reports commands and environment
// signals; the server pushes questions, ticks, notices and the outcome.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	sess, err := h.sessions.Lookup(claims.SessionID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("session_id", sess.ID).
		Str("exam_code", sess.Identity.Code).
		Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	b := newBrowser(conn, sess, wsLog)
	go b.writeLoop(cancel)
	defer b.stop()

	detach, err := sess.Attach(ctx, b)
	if err != nil {
		ws.WriteError(conn, "session unavailable")
		return
	}
	defer detach()

	wsLog.Info().Msg("Examinee connected")
	if err := b.Watch(ctx, sess.Signals()); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			wsLog.Warn().Err(err).Msg("Unexpected close")
		} else {
			wsLog.Debug().Msg("Connection closed")
		}
	}
}

// browser is the websocket platform adapter. It is the session's Listener
// while attached and reports the page's signals to the violation detector.
type browser struct {
	conn *websocket.Conn
	sess *service.Session
	log  zerolog.Logger

	out  chan any
	quit chan struct{}
	wait time.Duration
}

var (
	_ engine.Listener    = (*browser)(nil)
	_ violation.Platform = (*browser)(nil)
)

func newBrowser(conn *websocket.Conn, sess *service.Session, log zerolog.Logger) *browser {
	return &browser{
		conn: conn,
		sess: sess,
		log:  log,
		out:  make(chan any, outboxSize),
		quit: make(chan struct{}),
		wait: outboxWait,
	}
}

// Watch reads client messages until the connection or ctx ends.
func (b *browser) Watch(ctx context.Context, h violation.Handler) error {
	for {
		var req ws.Request
		if err := ws.ReadJSON(b.conn, &req); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch req.Action {
		case ws.ActionFocusLost:
			h.OnFocusLost()
		case ws.ActionBackNavigation:
			h.OnBackNavigation()
		case ws.ActionReload:
			h.OnReloadAttempt()
		case ws.ActionResize:
			h.OnResize(req.Width, req.Height)
		case ws.ActionScreenshot:
			h.OnScreenshotKey()
		case ws.ActionPing:
			b.send(ws.SignalResponse{Event: ws.EventPong})
		case ws.ActionSubmit, ws.ActionSkip, ws.ActionRecall, ws.ActionDraft, ws.ActionDismiss, ws.ActionAbort:
			if err := b.command(ctx, req); err != nil {
				b.log.Debug().Err(err).Str("action", string(req.Action)).Msg("Action rejected")
				b.send(ws.ErrorResponse{Event: ws.EventError, Error: err.Error()})
			}
		default:
			b.log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
			b.send(ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(req.Action)})
		}
	}
}

func (b *browser) command(ctx context.Context, req ws.Request) error {
	code := questionset.NormalizeCode(req.Code)
	return b.sess.Do(ctx, func(c *engine.Controller) error {
		switch req.Action {
		case ws.ActionSubmit:
			return c.Submit(req.Answer)
		case ws.ActionSkip:
			return c.Skip()
		case ws.ActionRecall:
			return c.RecallSkipped(code)
		case ws.ActionDraft:
			return c.SaveDraft(code, req.Answer)
		case ws.ActionDismiss:
			c.DismissNotice()
			return nil
		case ws.ActionAbort:
			return c.Abort()
		}
		return nil
	})
}

// send queues v for the writer. Only a full outbox can hold up the session
// loop, and never for longer than b.wait.
func (b *browser) send(v any) {
	select {
	case <-b.quit:
		return
	case b.out <- v:
		return
	default:
	}

	if _, tick := v.(ws.TickResponse); tick {
		b.log.Debug().Msg("Outbox full, tick dropped")
		return
	}

	t := time.NewTimer(b.wait)
	defer t.Stop()
	select {
	case <-b.quit:
	case b.out <- v:
	case <-t.C:
		b.log.Warn().Msg("Outbox full, dropping slow connection")
		b.stop()
		if b.conn != nil {
			b.conn.Close()
		}
	}
}

func (b *browser) stop() {
	select {
	case <-b.quit:
	default:
		close(b.quit)
	}
}

// writeLoop is the only writer on the connection. It closes the socket after
// the finished event so the read loop ends.
func (b *browser) writeLoop(cancel context.CancelFunc) {
	for {
		select {
		case <-b.quit:
			return
		case v := <-b.out:
			if err := ws.WriteTyped(b.conn, v); err != nil {
				b.log.Debug().Err(err).Msg("Write failed")
				cancel()
				b.conn.Close()
				return
			}
			if _, done := v.(ws.FinishedResponse); done {
				b.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}

func (b *browser) OnQuestion(v engine.View) {
	b.send(ws.QuestionResponse{Event: ws.EventQuestion, Question: v})
}

func (b *browser) OnTick(remaining int) {
	b.send(ws.TickResponse{Event: ws.EventTick, Remaining: remaining})
}

func (b *browser) OnProgress(p model.Progress) {
	b.send(ws.ProgressResponse{Event: ws.EventProgress, Progress: p})
}

func (b *browser) OnNotice(n model.Notice) {
	b.send(ws.NoticeResponse{Event: ws.EventNotice, Notice: n})
}

func (b *browser) OnNoticeCleared() {
	b.send(ws.SignalResponse{Event: ws.EventNoticeCleared})
}

func (b *browser) OnGuard() {
	b.send(ws.SignalResponse{Event: ws.EventGuard})
}

func (b *browser) OnDeliveryStatus(s delivery.Status) {
	b.send(ws.DeliveryStatusResponse{Event: ws.EventDeliveryStatus, Status: s})
}

func (b *browser) OnFinished(s model.Summary) {
	b.send(ws.FinishedResponse{
		Event:    ws.EventFinished,
		Score:    s.ScoreText(),
		Violated: s.Violated,
		Aborted:  s.Aborted,
		Reason:   s.Reason,
	})
}
