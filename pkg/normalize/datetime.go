package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DateLocale describes how calendar dates are written by the portal and the
// time zone its wall clock times are in.
type DateLocale struct {
	Tag language.Tag
	// Months maps month names and abbreviations to months. Keys are compared
	// after lowercasing and removing accents.
	Months   map[string]time.Month
	Location *time.Location
}

// Spanish returns the locale used by the portal with times in loc.
func Spanish(loc *time.Location) DateLocale {
	return DateLocale{
		Tag: language.Spanish,
		Months: map[string]time.Month{
			"enero": time.January, "ene": time.January,
			"febrero": time.February, "feb": time.February,
			"marzo": time.March, "mar": time.March,
			"abril": time.April, "abr": time.April,
			"mayo": time.May, "may": time.May,
			"junio": time.June, "jun": time.June,
			"julio": time.July, "jul": time.July,
			"agosto": time.August, "ago": time.August,
			"septiembre": time.September, "setiembre": time.September, "sep": time.September, "sept": time.September, "set": time.September,
			"octubre": time.October, "oct": time.October,
			"noviembre": time.November, "nov": time.November,
			"diciembre": time.December, "dic": time.December,
		},
		Location: loc,
	}
}

var (
	strictDateRegex  = regexp.MustCompile(`^(\d{1,2}) (\pL+)\.? (\d{4})$`)
	lenientDateRegex = regexp.MustCompile(`(\d{1,2})[\s\-/.]+(?:de\s+)?(\pL+)\.?[\s\-/.,]+(?:de\s+)?(\d{4})`)
	clockRegex       = regexp.MustCompile(`^(\d{1,2}):(\d{2})`)
)

// DateTimeNormalizer combines a portal date ("26 abr 2025") and clock time
// ("10:00") into a timestamp.
type DateTimeNormalizer struct {
	locale DateLocale
	months map[string]time.Month
}

// NewDateTimeNormalizer returns a normalizer for locale. A nil Location is
// treated as time.Local.
func NewDateTimeNormalizer(locale DateLocale) *DateTimeNormalizer {
	if locale.Location == nil {
		locale.Location = time.Local
	}
	n := &DateTimeNormalizer{
		locale: locale,
		months: make(map[string]time.Month, len(locale.Months)),
	}
	for k, m := range locale.Months {
		n.months[n.fold(k)] = m
	}
	return n
}

// Location returns the time zone timestamps are produced in.
func (n *DateTimeNormalizer) Location() *time.Location {
	return n.locale.Location
}

// fold lowercases s and strips diacritics so "Ágo" and "ago" compare equal.
func (n *DateTimeNormalizer) fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, cases.Lower(n.locale.Tag).String(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// ParseDate parses a "day month year" date. Exact month names from the locale
// are tried first, then any month word is matched by its first three letters.
func (n *DateTimeNormalizer) ParseDate(s string) (time.Time, error) {
	s = strings.Join(strings.Fields(s), " ")
	if d, ok := n.parseStrict(s); ok {
		return d, nil
	}

	m := lenientDateRegex.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognized date: %q", s)
	}
	word := []rune(n.fold(m[2]))
	if len(word) > 3 {
		word = word[:3]
	}
	month, ok := n.months[string(word)]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month name %q in date %q", m[2], s)
	}
	return n.date(m[1], month, m[3])
}

func (n *DateTimeNormalizer) parseStrict(s string) (time.Time, bool) {
	m := strictDateRegex.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := n.months[n.fold(m[2])]
	if !ok {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation("2 January 2006", m[1]+" "+month.String()+" "+m[3], n.locale.Location)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// date builds a date and rejects components that time.Date would normalize,
// like 31 February.
func (n *DateTimeNormalizer) date(dayStr string, month time.Month, yearStr string) (time.Time, error) {
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return time.Time{}, err
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, err
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, n.locale.Location)
	if d.Day() != day || d.Month() != month {
		return time.Time{}, fmt.Errorf("invalid date: day=%d month=%s year=%d", day, month, year)
	}
	return d, nil
}

// ParseClock returns the offset from midnight for an "HH:MM" string. Anything
// else is midnight and reports ok=false.
func ParseClock(s string) (time.Duration, bool) {
	m := clockRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return time.Duration(h)*time.Hour + time.Duration(minute)*time.Minute, true
}

// Combine returns the timestamp for date at clock, truncated to the second.
// Hours past midnight, like "24:00", roll over into the following day. ok is
// false when the date cannot be parsed or the wall time does not exist in the
// locale's time zone, like 02:00 on a spring-forward day.
func (n *DateTimeNormalizer) Combine(date, clock string) (time.Time, bool) {
	d, err := n.ParseDate(date)
	if err != nil {
		return time.Time{}, false
	}
	offset, _ := ParseClock(clock)
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	day := d.AddDate(0, 0, h/24)
	ts := time.Date(day.Year(), day.Month(), day.Day(), h%24, m, 0, 0, n.locale.Location)
	// time.Date shifts wall times that fall into a DST gap
	if ts.Day() != day.Day() || ts.Hour() != h%24 || ts.Minute() != m {
		return time.Time{}, false
	}
	return ts.Truncate(time.Second), true
}
