// Package normalize turns the locale formatted strings the portal emits into
// Go values.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// currency symbols, whitespace (including NBSP) and volume units
	numberNoiseRegex = regexp.MustCompile(`(?i)[€$£¥\s\x{00A0}]|m[³3]|litros?|l`)
	numberRegex      = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)`)
)

// ParseNumber extracts the first decimal number from text. When both ',' and
// '.' appear, the one appearing last is the decimal separator and the other is
// dropped as a thousands separator. A single separator repeated more than
// once is also a thousands separator.
//
// Text that is blank once currency and unit symbols are removed is 0. Text
// without any digits reports ok=false.
func ParseNumber(text string) (float64, bool) {
	s := numberNoiseRegex.ReplaceAllString(text, "")
	if s == "" {
		return 0, true
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0 && strings.Count(s, ",") > 1:
		s = strings.ReplaceAll(s, ",", "")
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	s = strings.ReplaceAll(s, ",", ".")

	m := numberRegex.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseValue is ParseNumber for decoded JSON values, which the portal sends
// either as strings or numbers. nil reports ok=false.
func ParseValue(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case string:
		return ParseNumber(t)
	default:
		return 0, false
	}
}
