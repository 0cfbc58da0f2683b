package model

// Signal is an environment observation that may count as a violation.
type Signal string

const (
	SignalFocusLost      Signal = "focus_lost"
	SignalBackNavigation Signal = "back_navigation"
	SignalReloadAttempt  Signal = "reload_attempt"
	SignalResize         Signal = "resize"
	SignalScreenshotKey  Signal = "screenshot_key"
)

// EscalationState is the position in the warn/warn/terminate ladder.
type EscalationState string

const (
	EscalationClean      EscalationState = "CLEAN"
	EscalationWarned1    EscalationState = "WARNED_1"
	EscalationWarned2    EscalationState = "WARNED_2"
	EscalationTerminated EscalationState = "TERMINATED"
)

// Notice is what the renderer shows while a violation is being handled.
type Notice struct {
	State     EscalationState `json:"state"`
	Count     int             `json:"count"`
	Remaining int             `json:"remaining"`
	Message   string          `json:"message"`
	Signal    Signal          `json:"signal"`
}
