package questionset

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	prefixedCode = regexp.MustCompile(`^Q0*(\d+)$`)
	numericCode  = regexp.MustCompile(`^0*(\d+)$`)
)

// NormalizeCode maps a raw code to its canonical form: "q7", "007" and 7 all
// become "Q007". Codes that are not numeric are upper-cased and trimmed.
// It returns "" for a blank code.
func NormalizeCode(raw any) string {
	var s string
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		s = v
	case float64:
		// JSON numbers decode as float64.
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		s = fmt.Sprint(v)
	}

	u := strings.ToUpper(strings.TrimSpace(s))
	if u == "" {
		return ""
	}
	if n, ok := codeNumber(u); ok {
		return FormatCode(n)
	}
	return u
}

// FormatCode renders the canonical code for a question number.
func FormatCode(n int) string {
	return fmt.Sprintf("Q%03d", n)
}

// codeNumber extracts N from "Q0*N" or "0*N".
func codeNumber(code string) (int, bool) {
	m := prefixedCode.FindStringSubmatch(code)
	if m == nil {
		m = numericCode.FindStringSubmatch(code)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
