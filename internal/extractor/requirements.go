package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alqutdigital/funding-crawler/internal/storage"
)

type sectionRule struct {
	selector string
	category string
	typ      string
}

var structuredSections = []sectionRule{
	{`.foerderbetrag, .funding-amount, [class*="amount"]`, storage.CategoryFinancial, "funding_amount"},
	{`.deadline, .frist, [class*="deadline"]`, storage.CategoryTimeline, "deadline"},
	{`.eigenmittel, .co-financing, [class*="eigen"]`, storage.CategoryCoFinancing, "co_financing_percentage"},
	{`.laufzeit, .duration, [class*="laufzeit"]`, storage.CategoryTimeline, "duration"},
	{`.voraussetzung, .eligibility, [class*="voraussetzung"]`, storage.CategoryEligibility, "eligibility_criteria"},
}

var (
	hasDigit            = regexp.MustCompile(`\d`)
	fullPageDeadline    = regexp.MustCompile(`(?i)(frist|deadline|einreichfrist|bewerbungsfrist|antragsfrist)[:\s]*([0-3]?\d[./-][01]?\d[./-](?:20)?\d{2}|[0-3]?\d\s+(?:jan|feb|mär|mae|mar|apr|mai|jun|jul|aug|sep|okt|nov|dez|january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4})`)
)

// ExtractRequirements fills all requirement categories from a parsed page.
// Passes run in order: structured HTML, selector text, full page text. The
// full page pass only fills categories that are still empty.
func ExtractRequirements(doc *goquery.Document, eligibilityText, requirementsText, text string) storage.CategorizedRequirements {
	reqs := storage.NewCategorizedRequirements()

	structuredPass(doc, reqs)

	if eligibilityText != "" {
		EligibilityRules.Apply(eligibilityText, eligibilityText, reqs)
	}
	if requirementsText != "" {
		RequirementsRules.Apply(requirementsText, requirementsText, reqs)
	}

	FullPageRules.Apply(text, text, reqs)
	if !hasDeadlineEntry(reqs) {
		if m := fullPageDeadline.FindString(text); m != "" {
			reqs.Add(storage.CategoryTimeline, storage.Requirement{
				Type:     "deadline",
				Value:    strings.TrimSpace(m),
				Required: true,
				Source:   SourceFullPage,
			})
		}
	}
	return reqs
}

func structuredPass(doc *goquery.Document, reqs storage.CategorizedRequirements) {
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		TableRules.Apply(label, value, reqs)
	})

	doc.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		dd := dt.Next()
		if !dd.Is("dd") {
			return
		}
		DefinitionListRules.Apply(strings.TrimSpace(dt.Text()), strings.TrimSpace(dd.Text()), reqs)
	})

	for _, sec := range structuredSections {
		doc.Find(sec.selector).Each(func(_ int, el *goquery.Selection) {
			text := strings.TrimSpace(el.Text())
			if len(text) <= 5 || len(text) >= 200 {
				return
			}
			if !hasDigit.MatchString(text) && len(text) <= 20 {
				return
			}
			reqs.Add(sec.category, storage.Requirement{
				Type:     sec.typ,
				Value:    text,
				Required: true,
				Source:   SourceStructured,
			})
		})
	}
}

func hasDeadlineEntry(reqs storage.CategorizedRequirements) bool {
	for _, r := range reqs[storage.CategoryTimeline] {
		if strings.Contains(strings.ToLower(r.Type), "deadline") {
			return true
		}
	}
	return false
}

// EligibilityCriteria summarises the eligibility text as free-form flags.
func EligibilityCriteria(eligibilityText string) map[string]any {
	criteria := map[string]any{}
	lower := strings.ToLower(eligibilityText)
	if strings.Contains(lower, "unternehmen") {
		criteria["company_type"] = "company"
	}
	if strings.Contains(lower, "startup") {
		criteria["company_type"] = "startup"
	}
	if strings.Contains(lower, "forschung") {
		criteria["research_focus"] = true
	}
	if strings.Contains(lower, "innovation") {
		criteria["innovation_focus"] = true
	}
	return criteria
}
