package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Recorder actions understood by the remote answer API.
const (
	ActionRecordResults = "recordResultsFM"
	ActionRecordPartial = "recordPartial"
)

// Entry is one pending delivery. Fields is the form body sent to the recorder;
// Action is duplicated there as the "action" field.
type Entry struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
}

// FinalRecord is the summary delivered once a session finishes.
type FinalRecord struct {
	Identity  Identity
	Score     string
	Correct   []string
	Mistakes  []string
	StartTime time.Time
	EndTime   time.Time
}

// Fields returns the form-encoded field set for the recorder.
func (r FinalRecord) Fields() map[string]string {
	end := r.EndTime.UTC()
	return map[string]string{
		"action":    ActionRecordResults,
		"lastName":  r.Identity.LastName,
		"firstName": r.Identity.FirstName,
		"code":      r.Identity.Code,
		"score":     r.Score,
		"correct":   strings.Join(r.Correct, ", "),
		"mistakes":  strings.Join(r.Mistakes, ", "),
		"startTime": r.StartTime.UTC().Format(time.RFC3339),
		"endTime":   end.Format(time.RFC3339),
		"date":      end.Format(time.DateOnly),
	}
}

// PartialRecord is sent when the examinee exits before finishing.
type PartialRecord struct {
	Identity  Identity
	Answers   map[string]string
	Timestamp time.Time
}

// Fields returns the form-encoded field set for the recorder.
func (r PartialRecord) Fields() map[string]string {
	answers := r.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	raw, _ := json.Marshal(answers)
	return map[string]string{
		"action":           ActionRecordPartial,
		"lastName":         r.Identity.LastName,
		"firstName":        r.Identity.FirstName,
		"code":             r.Identity.Code,
		"submittedAnswers": string(raw),
		"status":           "aborted",
		"timestamp":        r.Timestamp.UTC().Format(time.RFC3339),
	}
}
