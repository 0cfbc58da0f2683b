package engine

import "errors"

var (
	ErrNotStarted       = errors.New("session has not started")
	ErrSessionFinished  = errors.New("session is finished")
	ErrSkipUnavailable  = errors.New("skip is only available while answering the main batch")
	ErrAlreadySkipped   = errors.New("question has already been skipped once")
	ErrNotSkipped       = errors.New("question is not in the skipped batch")
	ErrNoSuchQuestion   = errors.New("no question at that position")
	ErrSnapshotMismatch = errors.New("saved session does not match the question set")
)

// Finish reasons reported in the summary.
const (
	ReasonCompleted       = "completed"
	ReasonPolicyViolation = "policy violation"
	ReasonTimeExpired     = "Total Exam Time Expired"
	ReasonAborted         = "aborted by examinee"
)

// NoAnswer is recorded when a question times out unanswered.
const NoAnswer = "-"
