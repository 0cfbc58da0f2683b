package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/engine"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionSkip    Action = "skip"
	ActionRecall  Action = "recall"
	ActionDraft   Action = "draft"
	ActionDismiss Action = "dismiss"
	ActionAbort   Action = "abort"
	ActionPing    Action = "ping"

	// Environment signals reported by the browser.
	ActionFocusLost      Action = "focus_lost"
	ActionBackNavigation Action = "back_navigation"
	ActionReload         Action = "reload"
	ActionResize         Action = "resize"
	ActionScreenshot     Action = "screenshot"
)

// Request is every client message. Fields are used depending on Action.
type Request struct {
	Action Action `json:"action"`
	// Answer for submit, draft text for draft.
	Answer string `json:"ans,omitempty"`
	// Code for recall and draft.
	Code   string `json:"code,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventQuestion       Event = "question"
	EventTick           Event = "tick"
	EventProgress       Event = "progress"
	EventNotice         Event = "notice"
	EventNoticeCleared  Event = "notice_cleared"
	EventGuard          Event = "guard"
	EventDeliveryStatus Event = "delivery_status"
	EventFinished       Event = "finished"
	EventError          Event = "error"
	EventPong           Event = "pong"
)

type QuestionResponse struct {
	Event    Event       `json:"event"`
	Question engine.View `json:"question"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}

type ProgressResponse struct {
	Event    Event          `json:"event"`
	Progress model.Progress `json:"progress"`
}

type NoticeResponse struct {
	Event  Event        `json:"event"`
	Notice model.Notice `json:"notice"`
}

type DeliveryStatusResponse struct {
	Event  Event           `json:"event"`
	Status delivery.Status `json:"status"`
}

// FinishedResponse drives the exit page.
type FinishedResponse struct {
	Event    Event  `json:"event"`
	Score    string `json:"score"`
	Violated bool   `json:"violated"`
	Aborted  bool   `json:"aborted"`
	Reason   string `json:"reason,omitempty"`
}

// SignalResponse carries events without a payload (guard, notice_cleared, pong).
type SignalResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}
