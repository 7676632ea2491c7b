// Package storage provides the persisted crawler models and their stores.
package storage

import (
	"sort"
	"time"
)

// Requirement categories extracted for every program. The set is fixed.
const (
	CategoryEligibility  = "eligibility"
	CategoryDocuments    = "documents"
	CategoryFinancial    = "financial"
	CategoryTechnical    = "technical"
	CategoryLegal        = "legal"
	CategoryTimeline     = "timeline"
	CategoryGeographic   = "geographic"
	CategoryTeam         = "team"
	CategoryProject      = "project"
	CategoryCompliance   = "compliance"
	CategoryImpact       = "impact"
	CategoryCapexOpex    = "capex_opex"
	CategoryUseOfFunds   = "use_of_funds"
	CategoryRevenueModel = "revenue_model"
	CategoryMarketSize   = "market_size"
	CategoryCoFinancing  = "co_financing"
	CategoryTRLLevel     = "trl_level"
	CategoryConsortium   = "consortium"
	CategoryDiversity    = "diversity"
)

// RequirementCategories lists every category key in output order.
var RequirementCategories = []string{
	CategoryEligibility, CategoryDocuments, CategoryFinancial, CategoryTechnical,
	CategoryLegal, CategoryTimeline, CategoryGeographic, CategoryTeam, CategoryProject,
	CategoryCompliance, CategoryImpact, CategoryCapexOpex, CategoryUseOfFunds,
	CategoryRevenueModel, CategoryMarketSize, CategoryCoFinancing, CategoryTRLLevel,
	CategoryConsortium, CategoryDiversity,
}

// Requirement is one extracted requirement signal.
type Requirement struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Required bool   `json:"required"`
	Source   string `json:"source"`
}

// CategorizedRequirements maps each category key to its entries.
type CategorizedRequirements map[string][]Requirement

// NewCategorizedRequirements returns a map with every category present and empty.
func NewCategorizedRequirements() CategorizedRequirements {
	c := make(CategorizedRequirements, len(RequirementCategories))
	for _, cat := range RequirementCategories {
		c[cat] = []Requirement{}
	}
	return c
}

// Add appends r to category. Unknown categories are ignored.
func (c CategorizedRequirements) Add(category string, r Requirement) {
	if _, ok := c[category]; !ok {
		return
	}
	c[category] = append(c[category], r)
}

// Empty reports whether category has no entries.
func (c CategorizedRequirements) Empty(category string) bool {
	return len(c[category]) == 0
}

// HasType reports whether category holds an entry of the given type.
func (c CategorizedRequirements) HasType(category, typ string) bool {
	for _, r := range c[category] {
		if r.Type == typ {
			return true
		}
	}
	return false
}

// ContactInfo is the contact block found on a program page.
type ContactInfo struct {
	Text  string `json:"text"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ScrapedProgram is one extracted funding program. Records are never mutated
// after extraction; a re-scrape produces a new record.
type ScrapedProgram struct {
	ID                      string                  `json:"id"`
	Name                    string                  `json:"name"`
	Description             string                  `json:"description"`
	SourceURL               string                  `json:"source_url"`
	Institution             string                  `json:"institution"`
	Type                    string                  `json:"type"`
	ProgramType             string                  `json:"program_type"`
	ProgramCategory         string                  `json:"program_category"`
	FundingTypes            []string                `json:"funding_types"`
	ProgramFocus            []string                `json:"program_focus"`
	Region                  string                  `json:"region,omitempty"`
	EligibilityCriteria     map[string]any          `json:"eligibility_criteria"`
	CategorizedRequirements CategorizedRequirements `json:"categorized_requirements"`
	ContactInfo             ContactInfo             `json:"contact_info"`
	FundingAmountMin        *float64                `json:"funding_amount_min,omitempty"`
	FundingAmountMax        *float64                `json:"funding_amount_max,omitempty"`
	Currency                string                  `json:"currency"`
	Deadline                string                  `json:"deadline,omitempty"`
	ContactEmail            string                  `json:"contact_email,omitempty"`
	ContactPhone            string                  `json:"contact_phone,omitempty"`
	CofinancingPct          *float64                `json:"cofinancing_pct,omitempty"`
	ScrapedAt               time.Time               `json:"scraped_at"`
	ConfidenceScore         float64                 `json:"confidence_score"`
	IsActive                bool                    `json:"is_active"`
}

// ProgramsDocument is the on-disk layout of the programs store.
type ProgramsDocument struct {
	Timestamp     time.Time        `json:"timestamp"`
	TotalPrograms int              `json:"totalPrograms"`
	Programs      []ScrapedProgram `json:"programs"`
}

// ExploredSection records what was reached from one seed URL.
type ExploredSection struct {
	SeedURL        string    `json:"seedUrl"`
	LastExplored   time.Time `json:"lastExplored"`
	DiscoveredURLs []string  `json:"discoveredUrls"`
	Depth          int       `json:"depth"`
}

// InstitutionDiscoveryState is the persisted discovery progress of one institution.
type InstitutionDiscoveryState struct {
	LastFullScan     *time.Time        `json:"lastFullScan"`
	ExploredSections []ExploredSection `json:"exploredSections"`
	KnownURLs        []string          `json:"knownUrls"`
	UnscrapedURLs    []string          `json:"unscrapedUrls"`
}

// NewDiscoveryState returns an empty state with non-nil lists.
func NewDiscoveryState() InstitutionDiscoveryState {
	return InstitutionDiscoveryState{
		ExploredSections: []ExploredSection{},
		KnownURLs:        []string{},
		UnscrapedURLs:    []string{},
	}
}

// Section returns the section for seed, or nil.
func (s *InstitutionDiscoveryState) Section(seed string) *ExploredSection {
	for i := range s.ExploredSections {
		if s.ExploredSections[i].SeedURL == seed {
			return &s.ExploredSections[i]
		}
	}
	return nil
}

// TouchSection creates or updates the section for seed. Sections are never removed.
func (s *InstitutionDiscoveryState) TouchSection(seed string, at time.Time, discovered []string, depth int) {
	sec := s.Section(seed)
	if sec == nil {
		s.ExploredSections = append(s.ExploredSections, ExploredSection{SeedURL: seed})
		sec = &s.ExploredSections[len(s.ExploredSections)-1]
	}
	sec.LastExplored = at
	sec.DiscoveredURLs = append([]string(nil), discovered...)
	if depth > sec.Depth {
		sec.Depth = depth
	}
}

// DiscoveryStateCache maps institution name to its discovery state.
type DiscoveryStateCache map[string]InstitutionDiscoveryState

// MergePrograms merges fresh records into existing by source_url. A fresh record
// replaces an older one in place; unseen URLs are appended in order.
func MergePrograms(existing, fresh []ScrapedProgram) []ScrapedProgram {
	index := make(map[string]int, len(existing))
	out := make([]ScrapedProgram, 0, len(existing)+len(fresh))
	for _, p := range existing {
		if i, ok := index[p.SourceURL]; ok {
			if p.ScrapedAt.After(out[i].ScrapedAt) {
				out[i] = p
			}
			continue
		}
		index[p.SourceURL] = len(out)
		out = append(out, p)
	}
	for _, p := range fresh {
		if i, ok := index[p.SourceURL]; ok {
			out[i] = p
			continue
		}
		index[p.SourceURL] = len(out)
		out = append(out, p)
	}
	return out
}

// SourceURLs returns the set of source URLs in programs.
func SourceURLs(programs []ScrapedProgram) map[string]struct{} {
	set := make(map[string]struct{}, len(programs))
	for _, p := range programs {
		set[p.SourceURL] = struct{}{}
	}
	return set
}

// LatestScrape returns the most recent scrape time per source URL.
func LatestScrape(programs []ScrapedProgram) map[string]time.Time {
	out := make(map[string]time.Time, len(programs))
	for _, p := range programs {
		if p.ScrapedAt.After(out[p.SourceURL]) {
			out[p.SourceURL] = p.ScrapedAt
		}
	}
	return out
}

// SortedSet returns the deduplicated, sorted members of urls.
func SortedSet(urls ...[]string) []string {
	seen := make(map[string]struct{})
	for _, list := range urls {
		for _, u := range list {
			if u != "" {
				seen[u] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
