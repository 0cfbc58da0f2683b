package questionset

import (
	"fmt"
	"sort"
	"strings"
)

// DataQualityError reports a question set that cannot be used. It is fatal
// to the session: the examinee is sent back to restart after the sheet is fixed.
type DataQualityError struct {
	Empty        bool
	MissingCodes int
	// Duplicates maps a code to the number of times it occurred.
	Duplicates map[string]int
	// Gaps is set when the numeric codes leave more holes than there are
	// questions, e.g. Q001 next to Q50000000.
	Gaps int
}

func (e *DataQualityError) Error() string {
	if e.Empty {
		return "no questions returned from the question source"
	}

	var b strings.Builder
	if e.MissingCodes > 0 {
		fmt.Fprintf(&b, "found %d question(s) with missing code values", e.MissingCodes)
	}
	if len(e.Duplicates) > 0 {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		codes := make([]string, 0, len(e.Duplicates))
		for c := range e.Duplicates {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		b.WriteString("duplicate question codes:")
		for _, c := range codes {
			fmt.Fprintf(&b, " %s (count: %d)", c, e.Duplicates[c])
		}
	}
	if e.Gaps > 0 {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "question codes leave %d gap(s) in the numeric sequence", e.Gaps)
	}
	return b.String()
}
