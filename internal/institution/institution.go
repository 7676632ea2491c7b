// Package institution holds the crawl targets: funding institutions with their
// seed URLs, page selectors and on-topic vocabulary.
package institution

import (
	"errors"
	"net/url"
	"strings"
)

// ErrNotFound is returned when a lookup matches no institution.
var ErrNotFound = errors.New("institution not found")

// Selectors are CSS selectors tried in order when extracting program fields.
type Selectors struct {
	Name         []string `mapstructure:"name" json:"name"`
	Description  []string `mapstructure:"description" json:"description"`
	Eligibility  []string `mapstructure:"eligibility" json:"eligibility"`
	Requirements []string `mapstructure:"requirements" json:"requirements"`
	Contact      []string `mapstructure:"contact" json:"contact"`
}

// Config describes one institution. It is read-only during a run.
type Config struct {
	ID            string    `mapstructure:"id" json:"id,omitempty"`
	Name          string    `mapstructure:"name" json:"name"`
	BaseURL       string    `mapstructure:"base_url" json:"baseUrl"`
	ProgramURLs   []string  `mapstructure:"program_urls" json:"programUrls"`
	FeedURLs      []string  `mapstructure:"feed_urls" json:"feedUrls,omitempty"`
	Selectors     Selectors `mapstructure:"selectors" json:"selectors"`
	FundingTypes  []string  `mapstructure:"funding_types" json:"fundingTypes"`
	ProgramFocus  []string  `mapstructure:"program_focus" json:"programFocus,omitempty"`
	Region        string    `mapstructure:"region" json:"region"`
	AutoDiscovery bool      `mapstructure:"auto_discovery" json:"autoDiscovery"`
	Keywords      []string  `mapstructure:"keywords" json:"keywords"`
}

// Key identifies the institution in the learned-keywords file: the ID when set,
// the name otherwise.
func (c Config) Key() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

// Host returns the hostname of the base URL, or "" if it does not parse.
func (c Config) Host() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Matches reports whether the institution is selected by a lowercased target.
func (c Config) Matches(target string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return false
	}
	id := strings.ToLower(c.ID)
	name := strings.ToLower(c.Name)
	return id == target || strings.Contains(name, target) || (id != "" && strings.Contains(id, target))
}

// Registry is an ordered list of institutions.
type Registry []Config

// Filter returns the institutions matching any target. An empty target list
// selects everything.
func (r Registry) Filter(targets []string) Registry {
	if len(targets) == 0 {
		return r
	}
	var out Registry
	for _, inst := range r {
		for _, t := range targets {
			if inst.Matches(t) {
				out = append(out, inst)
				break
			}
		}
	}
	return out
}

// Find returns the first institution matching name or id.
func (r Registry) Find(nameOrID string) (Config, error) {
	for _, inst := range r {
		if strings.EqualFold(inst.Name, nameOrID) || strings.EqualFold(inst.ID, nameOrID) {
			return inst, nil
		}
	}
	for _, inst := range r {
		if inst.Matches(nameOrID) {
			return inst, nil
		}
	}
	return Config{}, ErrNotFound
}

// ExclusionKeywords are href fragments the link extractor drops outright.
var ExclusionKeywords = []string{
	"newsletter", "news", "press", "media", "contact",
	"about", "ueber", "chi-siamo",
	"imprint", "impressum", "mentions-legales", "note-legali",
	"privacy", "datenschutz", "confidentialite",
	"services", "service", "themen", "aktuell",
}

var defaultSelectors = Selectors{
	Name:         []string{"h1", ".program-title", ".foerderung-title"},
	Description:  []string{".program-description", ".foerderung-description", "p"},
	Eligibility:  []string{".eligibility", ".voraussetzungen", ".requirements"},
	Requirements: []string{".requirements", ".dokumente", ".unterlagen"},
	Contact:      []string{".contact", ".ansprechpartner", ".kontakt"},
}

// DefaultRegistry returns the built-in institutions used when no registry file
// is configured.
func DefaultRegistry() Registry {
	return Registry{
		{
			ID:            "institution_aws",
			Name:          "Austria Wirtschaftsservice (AWS)",
			BaseURL:       "https://aws.at",
			ProgramURLs:   []string{"https://www.aws.at/foerderungen/"},
			Selectors:     defaultSelectors,
			FundingTypes:  []string{"grant", "loan", "equity"},
			Region:        "Austria",
			AutoDiscovery: true,
			Keywords:      []string{"foerderung", "grant", "startup", "innovation", "investition", "export"},
		},
		{
			ID:            "institution_ffg",
			Name:          "Austrian Research Promotion Agency (FFG)",
			BaseURL:       "https://www.ffg.at",
			ProgramURLs:   []string{"https://www.ffg.at/foerderungen", "https://www.ffg.at/programm-suche"},
			Selectors:     defaultSelectors,
			FundingTypes:  []string{"grant"},
			Region:        "Austria",
			AutoDiscovery: true,
			Keywords:      []string{"foerderung", "research", "innovation", "development", "trl", "basisprogramm"},
		},
		{
			Name:          "Vienna Business Agency (VBA)",
			BaseURL:       "https://www.vba.at",
			ProgramURLs:   []string{"https://www.vba.at/foerderungen"},
			Selectors:     defaultSelectors,
			FundingTypes:  []string{"grant"},
			Region:        "Vienna",
			AutoDiscovery: true,
			Keywords:      []string{"foerderung", "startup", "innovation", "business", "vienna", "export"},
		},
		{
			ID:            "institution_wko",
			Name:          "WKO (Wirtschaftskammer Österreich)",
			BaseURL:       "https://www.wko.at",
			ProgramURLs:   []string{"https://www.wko.at/foerderungen"},
			Selectors:     defaultSelectors,
			FundingTypes:  []string{"grant", "loan"},
			Region:        "Austria",
			AutoDiscovery: true,
			Keywords:      []string{"foerderung", "unternehmen", "kmu", "finanzierung", "export"},
		},
	}
}
