// Package extractor turns a fetched program page into a ScrapedProgram.
package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrEmptyPage is returned for pages without any HTML.
var ErrEmptyPage = errors.New("empty page")

const (
	defaultCurrency   = "EUR"
	defaultConfidence = 0.8
)

const (
	amountSelectors   = `.amount, .funding-amount, .foerderbetrag, .foerderung, .betrag, [class*="amount"], [class*="funding"], [class*="foerderung"], .financial-info, .funding-info`
	deadlineSelectors = `.deadline, .frist, .deadline-date, .application-deadline, [class*="deadline"], [class*="frist"]`
)

var (
	cellDate     = regexp.MustCompile(`\d{1,2}[.\-/]\d{1,2}[.\-/]\d{2,4}`)
	firstDecimal = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

// Config holds extractor settings.
type Config struct {
	// DeadlineHorizon bounds accepted deadlines to now plus this duration.
	DeadlineHorizon time.Duration
}

// DefaultConfig returns the default extractor configuration.
func DefaultConfig() Config {
	return Config{DeadlineHorizon: 5 * 365 * 24 * time.Hour}
}

// Result is the outcome of extracting one page.
type Result struct {
	Program storage.ScrapedProgram
	Reason  string
	Err     error
}

// OK reports whether a program was extracted.
func (r Result) OK() bool { return r.Err == nil }

// Extractor builds program records from HTML.
type Extractor struct {
	config Config
	log    *logger.Logger
	// Clock returns the extraction time. Deadlines must lie after it.
	Clock func() time.Time
}

// New creates an extractor.
func New(cfg Config, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Default()
	}
	if cfg.DeadlineHorizon <= 0 {
		cfg.DeadlineHorizon = DefaultConfig().DeadlineHorizon
	}
	return &Extractor{
		config: cfg,
		log:    log.WithComponent("extractor"),
		Clock:  time.Now,
	}
}

// Extract parses html fetched from pageURL into a program of inst.
func (e *Extractor) Extract(html, pageURL string, inst institution.Config) Result {
	if strings.TrimSpace(html) == "" {
		return Result{Reason: "empty page", Err: ErrEmptyPage}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{Reason: "unparseable html", Err: fmt.Errorf("failed to parse %s: %w", pageURL, err)}
	}

	now := e.Clock()
	sel := inst.Selectors

	structuredPct := structuredCofinancing(doc)
	name := ExtractName(doc, sel.Name)
	description := ExtractDescription(doc, sel.Description)
	eligibilityText := selectorText(doc, sel.Eligibility)
	requirementsText := selectorText(doc, sel.Requirements)
	contactText := selectorText(doc, sel.Contact)

	amountText, deadlineText := fieldTexts(doc)
	text := pageText(doc)

	reqs := ExtractRequirements(doc, eligibilityText, requirementsText, text)
	fundingType := DetectFundingType(text, inst.FundingTypes)
	lowest, highest := ExtractAmounts(text + " " + amountText)

	program := storage.ScrapedProgram{
		ID:                      newProgramID(now),
		Name:                    name,
		Description:             description,
		SourceURL:               pageURL,
		Institution:             inst.Name,
		Type:                    fundingType,
		ProgramType:             fundingType,
		ProgramCategory:         fundingType,
		FundingTypes:            append([]string{}, inst.FundingTypes...),
		ProgramFocus:            DetectProgramFocus(text, inst.Keywords),
		Region:                  inst.Region,
		EligibilityCriteria:     EligibilityCriteria(eligibilityText),
		CategorizedRequirements: reqs,
		ContactInfo: storage.ContactInfo{
			Text:  contactText,
			Email: ExtractEmail(contactText),
			Phone: ExtractContactPhone(contactText),
		},
		FundingAmountMin: lowest,
		FundingAmountMax: highest,
		Currency:         defaultCurrency,
		Deadline:         ExtractDeadline(text+" "+deadlineText, now, now.Add(e.config.DeadlineHorizon)),
		ContactEmail:     ExtractEmail(text),
		ContactPhone:     ExtractPagePhone(text),
		CofinancingPct:   CofinancingPct(structuredPct, reqs[storage.CategoryCoFinancing]),
		ScrapedAt:        now.UTC(),
		ConfidenceScore:  defaultConfidence,
		IsActive:         true,
	}

	e.log.Debug("extracted program",
		"url", pageURL,
		"name", program.Name,
		"deadline", program.Deadline,
	)
	return Result{Program: program}
}

// fieldTexts collects the text of elements that usually carry amounts and
// deadlines, including matching table cells and definition list entries.
func fieldTexts(doc *goquery.Document) (amounts, deadlines string) {
	var a, d strings.Builder
	a.WriteString(doc.Find(amountSelectors).Text())
	doc.Find("table td, table th, dl dt, dl dd").Each(func(_ int, s *goquery.Selection) {
		t := s.Text()
		lower := strings.ToLower(t)
		if strings.Contains(t, "€") || strings.Contains(lower, "eur") {
			a.WriteString(" ")
			a.WriteString(t)
		}
	})

	// Deadline elements are labelled by their class, table rows by a label cell.
	doc.Find(deadlineSelectors).Each(func(_ int, s *goquery.Selection) {
		d.WriteString(" Frist: ")
		d.WriteString(s.Text())
	})
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(c.Text()))
		})
		t := strings.Join(cells, ": ")
		if cellDate.MatchString(t) && deadlineLabelPattern.MatchString(t) {
			d.WriteString(" ")
			d.WriteString(t)
		}
	})
	return a.String(), d.String()
}

// structuredCofinancing reads a co-financing percentage from JSON-LD blocks.
// Both key spellings are accepted.
func structuredCofinancing(doc *goquery.Document) *float64 {
	var pct *float64
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := s.Text()
		if !gjson.Valid(raw) {
			return true
		}
		for _, key := range []string{"cofinancing_pct", "co_financing_pct"} {
			v := gjson.Get(raw, key)
			if !v.Exists() {
				continue
			}
			if f, ok := numberValue(v); ok {
				pct = &f
				return false
			}
		}
		return true
	})
	return pct
}

func numberValue(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		if m := firstDecimal.FindString(strings.ReplaceAll(v.String(), ",", ".")); m != "" {
			f, err := strconv.ParseFloat(m, 64)
			return f, err == nil
		}
	}
	return 0, false
}

// CofinancingPct prefers the structured value, then the first number found in
// a co-financing requirement.
func CofinancingPct(structured *float64, entries []storage.Requirement) *float64 {
	if structured != nil {
		return structured
	}
	for _, r := range entries {
		m := firstDecimal.FindString(r.Value)
		if m == "" {
			continue
		}
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			return &f
		}
	}
	return nil
}

func newProgramID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("program_%d_%s", now.UnixMilli(), suffix)
}
