package questionset

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestNormalizeCode(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"Q1", "Q001"},
		{"q014", "Q014"},
		{" 7 ", "Q007"},
		{"0012", "Q012"},
		{float64(3), "Q003"},
		{"Q1234", "Q1234"},
		{"intro", "INTRO"},
		{"", ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := NormalizeCode(tc.in); got != tc.want {
			t.Errorf("NormalizeCode(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func decode(t *testing.T, raw string) *model.SourcePayload {
	t.Helper()
	var p model.SourcePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return &p
}

func sortedCodes(set *model.QuestionSet) []string {
	codes := set.Codes()
	sort.Strings(codes)
	return codes
}

func TestBuild_FillsGapsAndDefaults(t *testing.T) {
	p := decode(t, `{
		"defaultTimerSeconds": 45,
		"questions": [
			{"code": "Q1", "question": "one", "answer": "A", "timerSeconds": 20},
			{"code": 3, "question": "three", "answer": " c "}
		]
	}`)

	set, report, err := Build(p, 1, 30)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := sortedCodes(set); len(got) != 3 || got[0] != "Q001" || got[1] != "Q002" || got[2] != "Q003" {
		t.Fatalf("codes = %v", got)
	}
	if len(report.Gaps) != 1 || report.Gaps[0] != "Q002" {
		t.Errorf("gaps = %v, want [Q002]", report.Gaps)
	}

	q1, _ := set.Lookup("Q001")
	if q1.AllottedSeconds != 20 || q1.CorrectAnswer != "A" {
		t.Errorf("Q001 = %+v", q1)
	}
	q2, _ := set.Lookup("Q002")
	if q2.Prompt != "[MISSING QUESTION Q002]" || q2.AllottedSeconds != 45 {
		t.Errorf("placeholder = %+v", q2)
	}
	q3, _ := set.Lookup("Q003")
	if q3.CorrectAnswer != "c" || q3.AllottedSeconds != 45 {
		t.Errorf("Q003 = %+v", q3)
	}
}

func TestBuild_AcceptsQuestionsMapObject(t *testing.T) {
	p := decode(t, `{
		"globalExamTimerSeconds": 600,
		"questionsMap": {
			"b": {"code": "Q002", "question": "two", "answer": "B"},
			"a": {"code": "Q001", "question": "one", "answer": "A"}
		}
	}`)

	set, _, err := Build(p, 7, 30)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(set.Questions) != 2 {
		t.Fatalf("len = %d", len(set.Questions))
	}
	if set.GlobalTimerSeconds != 600 {
		t.Errorf("GlobalTimerSeconds = %d", set.GlobalTimerSeconds)
	}
}

func TestBuild_SameSeedSameOrder(t *testing.T) {
	raw := `{"questions": [
		{"code": "Q1", "answer": "a"}, {"code": "Q2", "answer": "b"}, {"code": "Q3", "answer": "c"},
		{"code": "Q4", "answer": "d"}, {"code": "Q5", "answer": "e"}, {"code": "Q6", "answer": "f"}
	]}`

	a, _, err := Build(decode(t, raw), 42, 30)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := Build(decode(t, raw), 42, 30)
	if err != nil {
		t.Fatal(err)
	}
	ac, bc := a.Codes(), b.Codes()
	for i := range ac {
		if ac[i] != bc[i] {
			t.Fatalf("orders differ: %v vs %v", ac, bc)
		}
	}
}

func TestBuild_SingleCodeAtIntLimit(t *testing.T) {
	set, report, err := Build(decode(t, `{"questions": [{"code": "Q9223372036854775807", "question": "last"}]}`), 1, 30)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(set.Questions) != 1 || len(report.Gaps) != 0 {
		t.Errorf("questions = %d gaps = %v", len(set.Questions), report.Gaps)
	}
}

func TestBuild_DataQualityErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want func(*DataQualityError) bool
	}{
		{
			name: "empty",
			raw:  `{"questions": []}`,
			want: func(e *DataQualityError) bool { return e.Empty },
		},
		{
			name: "duplicate after normalization",
			raw:  `{"questions": [{"code": "Q1"}, {"code": "001"}, {"code": "Q2"}]}`,
			want: func(e *DataQualityError) bool { return e.Duplicates["Q001"] == 2 },
		},
		{
			name: "missing code",
			raw:  `{"questions": [{"code": "Q1"}, {"code": ""}, {"question": "no code"}]}`,
			want: func(e *DataQualityError) bool { return e.MissingCodes == 2 },
		},
		{
			name: "sparse numeric codes",
			raw:  `{"questions": [{"code": "Q1"}, {"code": "Q50000000"}]}`,
			want: func(e *DataQualityError) bool { return e.Gaps == 49999998 },
		},
		{
			name: "code at the top of the int range",
			raw:  `{"questions": [{"code": "Q1"}, {"code": "Q9223372036854775807"}]}`,
			want: func(e *DataQualityError) bool { return e.Gaps > 2 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Build(decode(t, tc.raw), 1, 30)
			var dqe *DataQualityError
			if !errors.As(err, &dqe) {
				t.Fatalf("err = %v, want DataQualityError", err)
			}
			if !tc.want(dqe) {
				t.Errorf("unexpected error detail: %+v (%v)", dqe, dqe)
			}
		})
	}
}
