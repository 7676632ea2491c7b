package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	minAmount = 100
	maxAmount = 1e8
)

const (
	num = `(\d{1,3}(?:[.,\s]\d{3})*(?:[.,]\d{2})?)`
	// numEnd stops a number from being cut out of a longer one, like 202 from 2026.
	numEnd = num + `(?:\D|$)`
)

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:bis zu|maximal|höchstens|up to|maximum|max\.?)\s*:?\s*€?\s*` + numEnd),
	regexp.MustCompile(`(?i)(?:fördermittel|förderhöhe|förderbetrag|förderung|finanzierung)\s*:?\s*(?:bis zu|maximal|höchstens)?\s*€?\s*` + numEnd),
	regexp.MustCompile(`€\s*` + numEnd),
	regexp.MustCompile(num + `\s*(?:\.|,)?\s*€`),
	regexp.MustCompile(`(?i)(?:kredit|darlehen|finanzierung)\s*(?:bis zu|maximal|höchstens)?\s*:?\s*` + numEnd),
	regexp.MustCompile(`(?i)(?:bis zu|maximal|höchstens|up to)\s*(\d{1,3}(?:\s\d{3}){1,3})\s*(?:eur|€|euro)`),
	regexp.MustCompile(`(?i)(?:foerderung|funding|grant|kredit)[^\n]{0,80}?(\d{1,3}(?:[.,]\d{3})+)(?:\D|$)`),
}

var millionPattern = regexp.MustCompile(`(?i)(\d{1,3}(?:[.,]\d{1,3})?)\s*(?:millionen|million|mio\.?)`)

// ParseAmount normalises a matched number in German or English notation.
func ParseAmount(raw string) (float64, bool) {
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' || r == '\n' {
			return -1
		}
		return r
	}, raw)
	if s == "" {
		return 0, false
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case hasComma:
		parts := strings.Split(s, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			s = parts[0] + "." + parts[1]
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasDot:
		parts := strings.Split(s, ".")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			break
		}
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractAmounts returns the largest funding amount in text and, when a
// materially smaller one exists, the smallest.
func ExtractAmounts(text string) (lowest, highest *float64) {
	var values []float64
	collect := func(p *regexp.Regexp, factor float64) {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			v, ok := ParseAmount(m[1])
			if !ok {
				continue
			}
			v *= factor
			if v >= minAmount && v < maxAmount {
				values = append(values, v)
			}
		}
	}
	for _, p := range amountPatterns {
		collect(p, 1)
	}
	collect(millionPattern, 1e6)

	if len(values) == 0 {
		return nil, nil
	}

	hi, lo := values[0], values[0]
	for _, v := range values[1:] {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	highest = &hi
	if lo < 0.9*hi {
		lowest = &lo
	}
	return lowest, highest
}

const (
	// numericDate patterns that follow free text must not start inside an ISO date.
	numericDate = `(\d{1,2}[.\-/]\d{1,2}[.\-/]\d{2,4})`
	months      = `(jan(?:uar|uary)?|feb(?:ruar|ruary)?|märz|maerz|mär|mar(?:ch)?|apr(?:il)?|mai|may|jun[ie]?|jul[iy]?|aug(?:ust)?|sep(?:t(?:ember)?)?|okt(?:ober)?|oct(?:ober)?|nov(?:ember)?|dez(?:ember)?|dec(?:ember)?)`
)

// deadlineLabel must precede every accepted date. Unlabelled dates are usually
// publication or revision stamps.
const deadlineLabel = `(?i)(?:(?:bewerbungs|antrags|abgabe|einreich)?frist|einreichung|deadline|\b(?:bis zum|bis|by|until))`

var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:bewerbungsfrist|application deadline|antragsfrist|abgabefrist|einreichfrist|einreichung|deadline|frist)\s*:?\s*` + numericDate),
	regexp.MustCompile(`(?i)\b(?:bis zum|bis|deadline|by|until)\s*:?\s*` + numericDate),
	regexp.MustCompile(`(?i)\b(?:deadline|application|due|submission)\s*(?:by|until|date)?\s*:?\s*` + numericDate),
	regexp.MustCompile(`(?i)(?:frist|deadline|einreich|bewerbung|antrag)[^\n]{0,50}?[^\d.\-/]` + numericDate),
	regexp.MustCompile(`(?i)(?:frist|deadline|einreich|bewerbung|antrag)[^\n]{0,50}?(\d{4}-\d{1,2}-\d{1,2})`),
	regexp.MustCompile(deadlineLabel + `\s*:?\s*(\d{1,2})\.?\s+` + months + `\s+(\d{4})`),
	regexp.MustCompile(deadlineLabel + `\s*:?\s*` + months + `\s+(\d{1,2}),?\s+(\d{4})`),
}

var deadlineLabelPattern = regexp.MustCompile(deadlineLabel)

var monthNumbers = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mär": time.March, "mae": time.March, "mar": time.March,
	"apr": time.April, "mai": time.May, "may": time.May, "jun": time.June, "jul": time.July,
	"aug": time.August, "sep": time.September, "okt": time.October, "oct": time.October,
	"nov": time.November, "dez": time.December, "dec": time.December,
}

var (
	dmyPattern = regexp.MustCompile(`^(\d{1,2})[.\-/](\d{1,2})[.\-/](\d{2,4})$`)
	ymdPattern = regexp.MustCompile(`^(\d{4})[.\-/](\d{1,2})[.\-/](\d{1,2})$`)
)

// ParseDate reads day-first numeric dates, ISO dates and month-name dates.
// Two-digit years are taken as 20xx.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	var y, m, d int
	if p := ymdPattern.FindStringSubmatch(s); p != nil {
		y, m, d = atoi(p[1]), atoi(p[2]), atoi(p[3])
	} else if p := dmyPattern.FindStringSubmatch(s); p != nil {
		d, m, y = atoi(p[1]), atoi(p[2]), atoi(p[3])
		if len(p[3]) == 2 {
			y += 2000
		} else if len(p[3]) == 3 {
			return time.Time{}, false
		}
	} else {
		return time.Time{}, false
	}
	return makeDate(y, time.Month(m), d)
}

func makeDate(y int, m time.Month, d int) (time.Time, bool) {
	if m < time.January || m > time.December || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func monthFromName(name string) (time.Month, bool) {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, "maerz") || strings.HasPrefix(name, "märz") {
		return time.March, true
	}
	for _, n := range []int{3, 4} {
		if len(name) >= n {
			if mo, ok := monthNumbers[name[:n]]; ok {
				return mo, true
			}
		}
	}
	if r := []rune(name); len(r) >= 3 {
		mo, ok := monthNumbers[string(r[:3])]
		return mo, ok
	}
	return 0, false
}

// ExtractDeadline returns the first date in text that lies after now and
// before limit, formatted DD.MM.YYYY, or "".
func ExtractDeadline(text string, now, limit time.Time) string {
	for _, p := range deadlinePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			t, ok := dateFromMatch(m)
			if !ok {
				continue
			}
			if t.After(now) && t.Before(limit) {
				return t.Format("02.01.2006")
			}
		}
	}
	return ""
}

func dateFromMatch(m []string) (time.Time, bool) {
	switch len(m) {
	case 2:
		return ParseDate(m[1])
	case 4:
		// "15. März 2026" or "March 15, 2026"
		if mo, ok := monthFromName(m[2]); ok {
			return makeDate(atoi(m[3]), mo, atoi(m[1]))
		}
		if mo, ok := monthFromName(m[1]); ok {
			return makeDate(atoi(m[3]), mo, atoi(m[2]))
		}
	}
	return time.Time{}, false
}

var (
	emailPattern = regexp.MustCompile(`([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)

	pagePhonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+43\s*\d{3,4}\s*\d{3,4}\s*\d{3,4}`),
		regexp.MustCompile(`(?:\+43|\+49|\+33)\s*\d{1,4}\s*\d{3,4}\s*\d{3,4}`),
		regexp.MustCompile(`0\d{3,4}\s*\d{3,4}\s*\d{3,4}`),
		regexp.MustCompile(`(?:\+43|\+49|\+33)?\s*(\d{2,4}\s*\d{3,4}\s*\d{3,4})`),
	}

	contactPhonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+43\s*\d{1,4}\s*\d{3,4}\s*\d{3,4}`),
		regexp.MustCompile(`\+49\s*\d{1,4}\s*\d{3,4}\s*\d{3,4}`),
		regexp.MustCompile(`\+33\s*\d{1,4}\s*\d{3,4}\s*\d{3,4}`),
		regexp.MustCompile(`\(\d{3,4}\)\s*\d{3,4}\s*\d{3,4}`),
		regexp.MustCompile(`\d{3,4}\s*\d{3,4}\s*\d{3,4}`),
		regexp.MustCompile(`(?i)(?:tel|phone|telefon)[.:\s]*(\+?\d[\d\s\-()]+)`),
	}
)

// ExtractEmail returns the first email address in text.
func ExtractEmail(text string) string {
	if m := emailPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// ExtractPagePhone returns the first phone number in page text with 8 to 15
// characters once whitespace is removed.
func ExtractPagePhone(text string) string {
	for _, p := range pagePhonePatterns {
		for _, m := range p.FindAllString(text, -1) {
			phone := strings.Join(strings.Fields(m), "")
			if len(phone) >= 8 && len(phone) <= 15 {
				return phone
			}
		}
	}
	return ""
}

// ExtractContactPhone returns the first phone number in a contact block, as written.
func ExtractContactPhone(text string) string {
	for _, p := range contactPhonePatterns {
		if m := p.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
