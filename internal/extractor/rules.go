package extractor

import (
	"regexp"
	"strings"

	"github.com/alqutdigital/funding-crawler/internal/storage"
)

// Requirement sources.
const (
	SourceTable            = "table"
	SourceDefinitionList   = "definition_list"
	SourceStructured       = "structured_section"
	SourceEligibilityText  = "eligibility_text"
	SourceRequirementsText = "requirements_text"
	SourceFullPage         = "full_page_content"
)

// Rule turns a label/value pair into one requirement. A rule fires when the
// label contains one of Labels or one of Words as a whole word, and, when
// Evidence is set, the value matches it.
type Rule struct {
	Category string
	Type     string
	Labels   []string
	Words    []string
	Evidence *regexp.Regexp
	// Value builds the requirement value from the matched text. Nil keeps the
	// trimmed value.
	Value    func(value string, evidence []string) string
	Optional bool
}

// RuleSet is an ordered rule list sharing one source tag.
type RuleSet struct {
	Source string
	Rules  []Rule
	// OnlyIfEmpty skips rules whose category already has entries.
	OnlyIfEmpty bool
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func (r Rule) matches(label string) bool {
	for _, l := range r.Labels {
		if strings.Contains(label, l) {
			return true
		}
	}
	if len(r.Words) == 0 {
		return false
	}
	for _, tok := range wordSplit.Split(label, -1) {
		for _, w := range r.Words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

// Apply runs every rule against a label/value pair and appends the entries
// that fire. For free text the label and value are the same string. It
// returns the number of entries added.
func (rs RuleSet) Apply(label, value string, reqs storage.CategorizedRequirements) int {
	lowerLabel := strings.ToLower(label)
	value = strings.TrimSpace(value)
	added := 0
	for _, r := range rs.Rules {
		if rs.OnlyIfEmpty && !reqs.Empty(r.Category) {
			continue
		}
		if !r.matches(lowerLabel) {
			continue
		}
		var evidence []string
		if r.Evidence != nil {
			evidence = r.Evidence.FindStringSubmatch(value)
			if evidence == nil {
				continue
			}
		}
		v := value
		if r.Value != nil {
			v = r.Value(value, evidence)
		}
		reqs.Add(r.Category, storage.Requirement{
			Type:     r.Type,
			Value:    v,
			Required: !r.Optional,
			Source:   rs.Source,
		})
		added++
	}
	return added
}

func fixed(v string) func(string, []string) string {
	return func(string, []string) string { return v }
}

var (
	coFinancingKeywords = []string{
		"eigenmittel", "eigenkapital", "co-financing", "cofinanzierung",
		"eigenanteil", "mitfinanzierung", "eigenbeitrag", "selbstfinanzierung",
		"eigenbeteiligung", "eigenfinanzierung", "eigenleistung", "eigenmitteln",
		"eigenfinanzierungsanteil", "selbstbeteiligung", "co-finance", "co finance",
	}
	trlKeywords = []string{
		"trl", "technology readiness", "reifegrad", "technologiereifegrad",
		"technologie-reifegrad", "technological readiness", "readiness level",
	}
	documentTerms = []string{
		"pitch deck", "businessplan", "antragsformular", "finanzplan", "lebenslauf",
		"prototyp", "meilensteinplan", "projektbeschreibung",
	}

	coFinancingPct = regexp.MustCompile(`(?i)(\d{1,3})[%\s]*(?:eigen|co-financ|mitfinanz|eigenbeitrag)`)
	percentPattern = regexp.MustCompile(`(\d+)\s*%`)
	numberPattern  = regexp.MustCompile(`(\d+)`)
	amountPattern  = regexp.MustCompile(`(?i)(\d+[.,]\d+|\d+)\s*(€|EUR|euro|million|mio|k|tausend)`)
	durationWords  = regexp.MustCompile(`(?i)(\d+)\s*(jahre?n?|monate?n?|months?|years?)`)
	trlSingle      = regexp.MustCompile(`(?i)(?:trl|technology readiness level)[\s\-]?(\d)`)
	trlRange       = regexp.MustCompile(`(?i)(?:trl|reifegrad)\s*(\d)\s*[–-]\s*(\d)`)
	trlLoose       = regexp.MustCompile(`(?i)trl\s*(\d+)`)
)

func percentage(text string) string {
	if m := percentPattern.FindStringSubmatch(text); m != nil {
		return m[1] + "%"
	}
	return "Unknown"
}

func number(text string) string {
	if m := numberPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return "Unknown"
}

func amount(text string) string {
	if m := amountPattern.FindString(text); m != "" {
		return m
	}
	return "Unknown amount"
}

func duration(text string) string {
	if m := durationWords.FindStringSubmatch(text); m != nil {
		return m[1] + " " + strings.ToLower(m[2])
	}
	return "Unknown duration"
}

func trl(text string) string {
	if m := trlRange.FindStringSubmatch(text); m != nil {
		return "TRL " + m[1] + "-" + m[2]
	}
	if m := trlSingle.FindStringSubmatch(text); m != nil {
		return "TRL " + m[1]
	}
	if m := trlLoose.FindStringSubmatch(text); m != nil {
		return "TRL " + m[1]
	}
	return "Unknown TRL"
}

func coFinancingValue(fallback func(string) string) func(string, []string) string {
	return func(text string, _ []string) string {
		if m := coFinancingPct.FindStringSubmatch(text); m != nil {
			return m[1] + "%"
		}
		return fallback(text)
	}
}

func matchedTerms(terms []string) func(string, []string) string {
	return func(text string, _ []string) string {
		lower := strings.ToLower(text)
		var found []string
		for _, t := range terms {
			if strings.Contains(lower, t) {
				found = append(found, t)
			}
		}
		return strings.Join(found, ", ")
	}
}

func firstGroup(format string) func(string, []string) string {
	return func(_ string, m []string) string {
		if len(m) < 2 {
			return ""
		}
		return strings.Replace(format, "$1", m[1], 1)
	}
}

// TableRules read label/value rows of HTML tables.
var TableRules = RuleSet{
	Source: SourceTable,
	Rules: []Rule{
		{Category: storage.CategoryFinancial, Type: "funding_amount_max",
			Labels: []string{"förderhöhe", "förderbetrag", "funding amount", "maximal", "bis zu"}, Evidence: regexp.MustCompile(`\d`)},
		{Category: storage.CategoryCoFinancing, Type: "co_financing_percentage",
			Labels: []string{"eigenmittel", "eigenanteil", "co-financing", "mitfinanzierung"}, Evidence: regexp.MustCompile(`(\d{1,3})\s*%`), Value: firstGroup("$1%")},
		{Category: storage.CategoryTimeline, Type: "duration",
			Labels: []string{"laufzeit", "duration", "zeitraum"}, Evidence: regexp.MustCompile(`(?i)(\d{1,3})\s*(jahr|monat|month)`)},
		{Category: storage.CategoryTRLLevel, Type: "trl_level",
			Labels: []string{"trl", "technology readiness"}, Evidence: regexp.MustCompile(`(?i)trl[\s\-]?(\d)`), Value: firstGroup("TRL $1")},
		{Category: storage.CategoryGeographic, Type: "specific_location",
			Labels: []string{"standort", "region", "location"}, Evidence: regexp.MustCompile(`^.{3,49}$`)},
	},
}

// DefinitionListRules read dt/dd pairs.
var DefinitionListRules = RuleSet{
	Source: SourceDefinitionList,
	Rules: []Rule{
		{Category: storage.CategoryFinancial, Type: "funding_amount",
			Labels: []string{"förderung", "betrag", "finanzierung"}, Evidence: regexp.MustCompile(`\d+.*€|€.*\d+`)},
		{Category: storage.CategoryCoFinancing, Type: "co_financing_percentage",
			Labels: []string{"eigenmittel", "eigenanteil"}, Evidence: regexp.MustCompile(`(\d{1,3})\s*%`), Value: firstGroup("$1%")},
		{Category: storage.CategoryEligibility, Type: "company_type",
			Labels: []string{"teilnahmeberechtigt", "eligibility", "voraussetzung"}, Evidence: regexp.MustCompile(`(?i)startup|unternehmen`)},
	},
}

// EligibilityRules classify the text of the eligibility selectors.
var EligibilityRules = RuleSet{
	Source: SourceEligibilityText,
	Rules: []Rule{
		{Category: storage.CategoryCoFinancing, Type: "co_financing", Labels: coFinancingKeywords, Value: coFinancingValue(percentage)},
		{Category: storage.CategoryFinancial, Type: "funding_amount", Labels: []string{"förderhöhe", "maximal", "bis zu"}, Value: func(t string, _ []string) string { return amount(t) }},
		{Category: storage.CategoryGeographic, Type: "location", Labels: []string{"österreich", "austria", "at-"}, Value: fixed("Austria")},
		{Category: storage.CategoryGeographic, Type: "specific_location", Labels: []string{"wien", "vienna"}, Value: fixed("Vienna")},
		{Category: storage.CategoryTeam, Type: "team_size", Labels: []string{"team", "mitarbeiter", "personal"}, Value: func(t string, _ []string) string { return number(t) }},
		{Category: storage.CategoryTeam, Type: "qualification", Labels: []string{"qualifikation", "ausbildung", "studium"}, Value: fixed("Specific qualifications required")},
		{Category: storage.CategoryTimeline, Type: "duration", Labels: []string{"laufzeit", "duration", "zeitraum"}, Value: func(t string, _ []string) string { return duration(t) }},
		{Category: storage.CategoryTimeline, Type: "deadline", Labels: []string{"deadline", "bewerbung", "einreichung"}, Value: fixed("Application deadline exists")},
		{Category: storage.CategoryProject, Type: "innovation_focus", Labels: []string{"innovation", "forschung", "entwicklung"}, Value: fixed("Innovation/Research required")},
		{Category: storage.CategoryTRLLevel, Type: "trl_level", Labels: trlKeywords, Value: func(t string, _ []string) string { return trl(t) }},
		{Category: storage.CategoryEligibility, Type: "company_type", Labels: []string{"startup", "neugründung"}, Value: fixed("Startup")},
		{Category: storage.CategoryEligibility, Type: "company_type", Labels: []string{"unternehmen", "firma"}, Value: fixed("Company")},
		{Category: storage.CategoryImpact, Type: "sustainability", Labels: []string{"nachhaltigkeit", "sustainability"}, Value: fixed("Sustainability impact required")},
		{Category: storage.CategoryImpact, Type: "employment_impact", Labels: []string{"arbeitsplätze", "employment"}, Words: []string{"jobs"}, Value: fixed("Job creation impact")},
	},
}

// RequirementsRules classify the text of the requirements selectors.
var RequirementsRules = RuleSet{
	Source: SourceRequirementsText,
	Rules: []Rule{
		{Category: storage.CategoryDocuments, Type: "required_documents", Labels: []string{"dokument", "unterlagen"}, Value: fixed("Various documents required")},
		{Category: storage.CategoryLegal, Type: "legal_compliance", Labels: []string{"rechtlich"}, Words: []string{"legal"}, Value: fixed("Legal compliance required")},
		{Category: storage.CategoryDocuments, Type: "documents_required", Labels: documentTerms, Words: []string{"cv"}, Value: matchedTerms(append(append([]string{}, documentTerms...), "cv"))},
		{Category: storage.CategoryCoFinancing, Type: "co_financing", Labels: coFinancingKeywords, Value: coFinancingValue(percentage)},
		{Category: storage.CategoryTRLLevel, Type: "trl_level", Labels: trlKeywords, Value: func(t string, _ []string) string { return trl(t) }},
		{Category: storage.CategoryDiversity, Type: "diversity_requirement", Labels: []string{"frauen", "female", "divers", "gender"}, Words: []string{"esg"}, Value: fixed("Diversity/Gender related requirement"), Optional: true},
		{Category: storage.CategoryGeographic, Type: "location", Labels: []string{"wien"}, Value: fixed("Vienna")},
		{Category: storage.CategoryGeographic, Type: "location", Labels: []string{"steiermark"}, Value: fixed("Styria")},
		{Category: storage.CategoryGeographic, Type: "location", Labels: []string{"österreich", "austria"}, Value: fixed("Austria")},
		{Category: storage.CategoryGeographic, Type: "location", Words: []string{"eu"}, Value: fixed("EU")},
		{Category: storage.CategoryTechnical, Type: "technology_focus", Labels: []string{"technologie", "technology", "software"}, Value: fixed("Technology development")},
		{Category: storage.CategoryCompliance, Type: "state_aid", Labels: []string{"de-minimis", "beihilfe", "agvo", "gber"}, Value: fixed("State aid rules apply")},
		{Category: storage.CategoryCapexOpex, Type: "eligible_costs", Labels: []string{"investitionskosten", "personalkosten", "sachkosten", "förderbare kosten", "förderfähige kosten", "eligible costs"}, Words: []string{"capex", "opex"}, Value: fixed("Eligible cost types defined")},
		{Category: storage.CategoryUseOfFunds, Type: "use_of_funds", Labels: []string{"mittelverwendung", "use of funds", "verwendungszweck"}, Value: fixed("Use of funds restricted")},
		{Category: storage.CategoryRevenueModel, Type: "revenue_model", Labels: []string{"geschäftsmodell", "business model", "erlösmodell", "revenue"}, Value: fixed("Business model required")},
		{Category: storage.CategoryMarketSize, Type: "market_potential", Labels: []string{"marktpotenzial", "market potential", "marktanalyse", "market size"}, Value: fixed("Market potential required")},
		{Category: storage.CategoryConsortium, Type: "consortium_required", Labels: []string{"konsortium", "consortium", "kooperationspartner", "projektpartner"}, Value: fixed("Consortium or partners required")},
	},
}

// FullPageRules catch signals the selectors missed. They only fill empty
// categories.
var FullPageRules = RuleSet{
	Source:      SourceFullPage,
	OnlyIfEmpty: true,
	Rules: []Rule{
		{Category: storage.CategoryEligibility, Type: "company_type", Labels: []string{"startup", "neugründung", "gründung"}, Value: fixed("Startup")},
		{Category: storage.CategoryEligibility, Type: "company_type", Labels: []string{"unternehmen", "firma", "company"}, Value: fixed("Company")},
		{Category: storage.CategoryDocuments, Type: "required_documents", Labels: []string{"dokument", "unterlagen", "antrag"}, Value: fixed("Various documents required")},
		{Category: storage.CategoryCoFinancing, Type: "co_financing", Labels: coFinancingKeywords, Value: coFinancingValue(func(string) string { return "Required" })},
		{Category: storage.CategoryTRLLevel, Type: "trl_level", Labels: trlKeywords, Value: func(t string, _ []string) string { return trl(t) }},
		{Category: storage.CategoryGeographic, Type: "location", Labels: []string{"österreich", "austria"}, Value: fixed("Austria")},
	},
}
