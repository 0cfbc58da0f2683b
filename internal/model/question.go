package model

// Question is a single exam item as fetched from the question source.
// Code is the canonical identifier (e.g. "Q014"); AllottedSeconds is the
// per-question time budget.
type Question struct {
	Code            string `json:"code"`
	Prompt          string `json:"question"`
	CorrectAnswer   string `json:"-"`
	AllottedSeconds int    `json:"timer_seconds"`
	// Remaining is set only while the question sits in the skip queue.
	Remaining int `json:"remaining,omitempty"`
}

// Allotment returns the seconds the timer should start with when the
// question is presented.
func (q Question) Allotment() int {
	if q.Remaining > 0 {
		return q.Remaining
	}
	return q.AllottedSeconds
}

// QuestionSet is the ordered, code-unique collection of questions fetched for
// one session. Questions is in display order.
type QuestionSet struct {
	Questions []Question `json:"questions"`
	// GlobalTimerSeconds > 0 replaces every per-question timer with a single
	// countdown for the whole session.
	GlobalTimerSeconds int `json:"global_timer_seconds,omitempty"`
	DefaultSeconds     int `json:"default_timer_seconds"`
}

// Codes returns the question codes in display order.
func (s *QuestionSet) Codes() []string {
	codes := make([]string, len(s.Questions))
	for i, q := range s.Questions {
		codes[i] = q.Code
	}
	return codes
}

// Lookup returns the question with the given code.
func (s *QuestionSet) Lookup(code string) (Question, bool) {
	for _, q := range s.Questions {
		if q.Code == code {
			return q, true
		}
	}
	return Question{}, false
}

// AnswerKey maps every code to its correct answer.
func (s *QuestionSet) AnswerKey() map[string]string {
	key := make(map[string]string, len(s.Questions))
	for _, q := range s.Questions {
		key[q.Code] = q.CorrectAnswer
	}
	return key
}

// RawQuestion is a question item exactly as the source delivers it, before
// normalization. Code is kept untyped because sheets send both "Q7" and 7.
type RawQuestion struct {
	Code         any     `json:"code"`
	Question     string  `json:"question"`
	Answer       *string `json:"answer"`
	TimerSeconds *int    `json:"timerSeconds"`
}

// SourcePayload is the body of a getAllQuestionsAndAnswers response.
// QuestionsMap may be an array or an object; it is decoded lazily.
type SourcePayload struct {
	Questions              []RawQuestion `json:"questions"`
	QuestionsMap           RawMap        `json:"questionsMap"`
	DefaultTimerSeconds    int           `json:"defaultTimerSeconds"`
	GlobalExamTimerSeconds int           `json:"globalExamTimerSeconds"`
}

// Items returns the raw questions from whichever field the source filled.
func (p *SourcePayload) Items() []RawQuestion {
	if len(p.Questions) > 0 {
		return p.Questions
	}
	return p.QuestionsMap.Items
}
