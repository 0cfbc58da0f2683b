package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/engine"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/questionset"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// SessionHandler opens sessions and reports their state over REST.
type SessionHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/sessions
// Fetches the question set and starts the session, or returns the live one
// for the same examinee. The token authenticates the websocket stream.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	handheld := violation.IsHandheld(c.GetHeader("User-Agent"), req.ViewportWidth, req.Touch)
	sess, token, err := h.sessions.Start(c.Request.Context(), req.Identity(), handheld)
	if err != nil {
		h.failFromError(c, err)
		return
	}

	state, err := sessionState(c.Request.Context(), sess)
	if err != nil {
		h.failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id": sess.ID,
		"token":      token,
		"identity":   sess.Identity,
		"state":      state,
	})
}

// GetSessionState godoc
// GET /api/v1/sessions/current
// Returns the current question, progress and escalation state.
func (h *SessionHandler) GetSessionState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sess, err := h.sessions.Lookup(claims.SessionID)
	if err != nil {
		h.failFromError(c, err)
		return
	}

	state, err := sessionState(c.Request.Context(), sess)
	if err != nil {
		h.failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// GetQueueStatus godoc
// GET /api/v1/queue
// Returns how many records wait in the offline queue on this node.
func (h *SessionHandler) GetQueueStatus(c *gin.Context) {
	n, err := h.sessions.QueueLen(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Offline queue unreadable")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"pending":         n,
		"active_sessions": h.sessions.Active(),
	})
}

// SessionState is the REST view of a live session.
type SessionState struct {
	Phase      model.Phase           `json:"phase"`
	Question   *engine.View          `json:"question,omitempty"`
	Progress   model.Progress        `json:"progress"`
	Skipped    []string              `json:"skipped"`
	Violations int                   `json:"violations"`
	Escalation model.EscalationState `json:"escalation"`
}

func sessionState(ctx context.Context, sess *service.Session) (SessionState, error) {
	var st SessionState
	err := sess.Do(ctx, func(c *engine.Controller) error {
		st = SessionState{
			Phase:      c.Phase(),
			Progress:   c.Progress(),
			Skipped:    c.Skipped(),
			Violations: c.ViolationCount(),
			Escalation: c.Escalation(),
		}
		if v, ok := c.CurrentQuestion(); ok {
			st.Question = &v
		}
		return nil
	})
	return st, err
}

func (h *SessionHandler) failFromError(c *gin.Context, err error) {
	var dq *questionset.DataQualityError
	var ne *delivery.NetworkError

	switch {
	case errors.As(err, &dq):
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrDataQuality,
			map[string]string{"detail": dq.Error()})
	case errors.As(err, &ne):
		h.log.Warn().Err(err).Msg("Question source unreachable")
		response.Fail(c, http.StatusBadGateway, response.ErrSourceUnavailable)
	case errors.Is(err, service.ErrInvalidIdentity):
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrShuttingDown):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrShuttingDown)
	case errors.Is(err, engine.ErrSessionFinished):
		response.Fail(c, http.StatusConflict, response.ErrSessionFinished)
	default:
		h.log.Error().Err(err).Msg("Session request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
