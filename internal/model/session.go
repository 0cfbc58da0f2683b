package model

import (
	"strconv"
	"time"
)

// Phase enumerates the session lifecycle.
type Phase string

const (
	PhaseLoading       Phase = "LOADING"
	PhaseMain          Phase = "MAIN"
	PhaseSkippedReview Phase = "SKIPPED_REVIEW"
	PhaseFinished      Phase = "FINISHED"
)

// Active reports whether questions are being presented.
func (p Phase) Active() bool {
	return p == PhaseMain || p == PhaseSkippedReview
}

// Identity names the examinee. Code is the exam code typed at login.
type Identity struct {
	LastName  string `json:"last_name"`
	FirstName string `json:"first_name"`
	Code      string `json:"code"`
}

// Key returns a stable string used to namespace per-examinee storage.
func (i Identity) Key() string {
	return i.Code + ":" + i.LastName + ":" + i.FirstName
}

// Progress is the (answered, fixedTotal) pair shown to the examinee.
type Progress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// SnapshotQuestion is the persisted projection of a queued question.
type SnapshotQuestion struct {
	Code            string `json:"code"`
	Prompt          string `json:"question"`
	AllottedSeconds int    `json:"timerSeconds"`
	Remaining       int    `json:"remaining,omitempty"`
}

// Snapshot is the serialized session state written after every mutation and
// read once at startup to resume an interrupted session.
type Snapshot struct {
	Version          int                `json:"version"`
	QuestionCodes    []string           `json:"questionCodes"`
	MainQueue        []SnapshotQuestion `json:"questions"`
	SkipQueue        []SnapshotQuestion `json:"skippedBatch"`
	Answers          map[string]string  `json:"userAnswers"`
	Position         int                `json:"current"`
	RemainingSeconds int                `json:"remaining"`
	GlobalRemaining  int                `json:"globalRemaining,omitempty"`
	Phase            Phase              `json:"phase"`
	FixedTotal       int                `json:"fixedTotal"`
	StartTime        time.Time          `json:"startTime"`
	// Set once the session is finishing but the final record is not yet
	// delivered, so a restart can resend it.
	EndTime  time.Time `json:"endTime,omitzero"`
	Reason   string    `json:"reason,omitempty"`
	Violated bool      `json:"violated,omitempty"`
}

// Summary is the outcome handed to the renderer when the session ends.
type Summary struct {
	Score       int      `json:"score"`
	Total       int      `json:"total"`
	CorrectList []string `json:"correct"`
	MistakeList []string `json:"mistakes"`
	Violated    bool     `json:"violated"`
	Aborted     bool     `json:"aborted"`
	Reason      string   `json:"reason,omitempty"`
}

// ScoreText renders the score the way the recorder expects it, e.g. "1/3".
func (s Summary) ScoreText() string {
	return strconv.Itoa(s.Score) + "/" + strconv.Itoa(s.Total)
}

// StartSessionRequest is the login form that opens (or re-opens) a session.
type StartSessionRequest struct {
	LastName  string `json:"last_name" binding:"required,max=100"`
	FirstName string `json:"first_name" binding:"required,max=100"`
	Code      string `json:"code" binding:"required,exam_code"`
	// ViewportWidth and Touch help tell handheld devices apart.
	ViewportWidth int  `json:"viewport_width" binding:"omitempty,min=0"`
	Touch         bool `json:"touch"`
}

// Identity returns the examinee named by the request.
func (r StartSessionRequest) Identity() Identity {
	return Identity{LastName: r.LastName, FirstName: r.FirstName, Code: r.Code}
}
