package questionset

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Report describes repairs applied while building a set.
type Report struct {
	// Gaps lists synthesized placeholder codes for holes in the numeric sequence.
	Gaps []string
}

// Build validates a source payload and turns it into a QuestionSet whose
// display order is shuffled with seed. defaultSeconds is used when the payload
// carries no defaultTimerSeconds.
func Build(p *model.SourcePayload, seed int64, defaultSeconds int) (*model.QuestionSet, Report, error) {
	var report Report

	items := p.Items()
	if len(items) == 0 {
		return nil, report, &DataQualityError{Empty: true}
	}

	if p.DefaultTimerSeconds > 0 {
		defaultSeconds = p.DefaultTimerSeconds
	}

	qs := make([]model.Question, 0, len(items))
	counts := make(map[string]int, len(items))
	missing := 0
	for _, it := range items {
		code := NormalizeCode(it.Code)
		if code == "" {
			missing++
			continue
		}
		counts[code]++

		q := model.Question{
			Code:            code,
			Prompt:          it.Question,
			AllottedSeconds: defaultSeconds,
		}
		if it.Answer != nil {
			q.CorrectAnswer = strings.TrimSpace(*it.Answer)
		}
		if it.TimerSeconds != nil && *it.TimerSeconds > 0 {
			q.AllottedSeconds = *it.TimerSeconds
		}
		qs = append(qs, q)
	}

	dups := make(map[string]int)
	for c, n := range counts {
		if n > 1 {
			dups[c] = n
		}
	}
	if missing > 0 || len(dups) > 0 {
		dqe := &DataQualityError{MissingCodes: missing}
		if len(dups) > 0 {
			dqe.Duplicates = dups
		}
		return nil, report, dqe
	}

	var err error
	qs, report.Gaps, err = fillGaps(qs, defaultSeconds)
	if err != nil {
		return nil, report, err
	}

	rnd := rand.New(rand.NewSource(seed))
	rnd.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })

	return &model.QuestionSet{
		Questions:          qs,
		GlobalTimerSeconds: max(p.GlobalExamTimerSeconds, 0),
		DefaultSeconds:     defaultSeconds,
	}, report, nil
}

// fillGaps lays numeric codes out from min to max, inserting a placeholder for
// every missing number. Non-numeric codes keep their arrival order at the end.
// A sequence with more holes than numbered questions is rejected.
func fillGaps(qs []model.Question, defaultSeconds int) ([]model.Question, []string, error) {
	byNum := make(map[int]model.Question)
	nums := make([]int, 0, len(qs))
	var other []model.Question
	for _, q := range qs {
		if n, ok := codeNumber(q.Code); ok {
			byNum[n] = q
			nums = append(nums, n)
			continue
		}
		other = append(other, q)
	}
	if len(nums) == 0 {
		return qs, nil, nil
	}
	sort.Ints(nums)

	// Codes are non-negative, so neighbour differences cannot overflow.
	holes := 0
	for i := 1; i < len(nums); i++ {
		d := nums[i] - nums[i-1] - 1
		if d > len(nums)-holes {
			return nil, nil, &DataQualityError{Gaps: holes + min(d, math.MaxInt-holes)}
		}
		holes += d
	}

	var gaps []string
	span := len(nums) + holes
	out := make([]model.Question, 0, span+len(other))
	for i := 0; i < span; i++ {
		n := nums[0] + i
		if q, ok := byNum[n]; ok {
			out = append(out, q)
			continue
		}
		code := FormatCode(n)
		gaps = append(gaps, code)
		out = append(out, model.Question{
			Code:            code,
			Prompt:          "[MISSING QUESTION " + code + "]",
			AllottedSeconds: defaultSeconds,
		})
	}
	return append(out, other...), gaps, nil
}
