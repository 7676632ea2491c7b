package crawler

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
)

// invalidPhrases reject a record when they appear anywhere in its name or
// description.
var invalidPhrases = []string{
	"cookie consent", "seite wurde nicht gefunden", "404", "not found", "nicht gefunden",
	"tut uns leid", "willkommen", "newsletter", "sprungmarken-navigation",
	"redes sociales", "datenschutz", "impressum", "kontakt", "privacy",
	"kreditkarten", "credit card", "kreditkarte", "sparkasse",
	"wohnmesse", "wohnfinanzierung", "privatkunden",
}

// invalidWords reject a record only as whole words.
var invalidWords = map[string]struct{}{
	"error": {}, "welcome": {}, "home": {}, "start": {}, "index": {},
	"about": {}, "legal": {},
}

// IsValidProgram reports whether a record looks like a real program rather
// than an error page, a placeholder or site chrome.
func IsValidProgram(p storage.ScrapedProgram) bool {
	name := strings.ToLower(p.Name)
	desc := strings.ToLower(p.Description)

	if len(p.Name) <= 10 || len(p.Description) <= 20 {
		return false
	}
	if strings.Contains(name, "untitled") || strings.Contains(desc, "placeholder") {
		return false
	}
	for _, text := range []string{name, desc} {
		if containsAny(text, invalidPhrases) || hasWord(text, invalidWords) {
			return false
		}
	}
	return true
}

func hasWord(text string, words map[string]struct{}) bool {
	for _, tok := range tokenSplit.Split(text, -1) {
		if _, ok := words[tok]; ok {
			return true
		}
	}
	return false
}

var (
	errorPhrases = []string{"404", "not found", "nicht gefunden", "seite nicht gefunden", "tut uns leid"}
	errorWords   = map[string]struct{}{"error": {}, "fehler": {}, "welcome": {}, "willkommen": {}}

	programSignals = []string{
		"foerderung", "foerderhoehe", "foerder", "förder", "grant", "subsid", "beihilfe",
		"kredit", "darlehen", "leasing", "beteiligung", "equity",
		"garantie", "buergschaft", "bürgschaft", "investment", "steuer", "incentive",
		"eligibility", "voraussetzungen", "requirements", "bedingungen",
		"einreichung", "bewerbung", "application", "antrag",
		"deadline", "antragsfrist", "frist", "bewerbungsfrist",
		"€", "euro", "eur", "betrag", "summe", "hohe",
	}
	listingPhrases = []string{
		"alle foerderungen", "alle förderungen", "alle programme", "all funding", "all programs",
		"programmübersicht", "program overview", "foerderungsliste", "programm liste",
		"weiter zum nächsten", "next page", "vorherige", "previous", "anzeigen",
		"show more", "more programs", "sortieren",
	}
	listingWords = map[string]struct{}{"mehr": {}, "filter": {}, "suche": {}, "search": {}, "sort": {}}

	anchorPattern = regexp.MustCompile(`(?i)<a\s+[^>]*href`)
)

// PreValidatorConfig holds the thresholds of the pre-scrape page check.
type PreValidatorConfig struct {
	Timeout        time.Duration
	RelaxedTimeout time.Duration
	MinContent     int
	MinTitle       int
	MinSignals     int
	// ListingLinks is the link count above which listing vocabulary rejects a page.
	ListingLinks int
	// ManyLinks is the link count above which listing vocabulary always rejects.
	ManyLinks int
}

// DefaultPreValidatorConfig returns default thresholds.
func DefaultPreValidatorConfig() PreValidatorConfig {
	return PreValidatorConfig{
		Timeout:        5 * time.Second,
		RelaxedTimeout: 8 * time.Second,
		MinContent:     1000,
		MinTitle:       5,
		MinSignals:     2,
		ListingLinks:   50,
		ManyLinks:      150,
	}
}

// Verdict is the outcome of a page pre-check.
type Verdict struct {
	URL     string   `json:"url"`
	Valid   bool     `json:"valid"`
	Reason  string   `json:"reason,omitempty"`
	Status  int      `json:"status"`
	Title   string   `json:"title"`
	Signals []string `json:"signals"`
	Links   int      `json:"links"`
	Listing bool     `json:"listing"`
}

// PreValidator checks a URL with a direct request before it is scraped.
type PreValidator struct {
	config PreValidatorConfig
	http   *HTTPFetcher
	log    *logger.Logger
}

// NewPreValidator creates a pre-validator on top of an HTTP fetcher.
func NewPreValidator(cfg PreValidatorConfig, httpFetcher *HTTPFetcher, log *logger.Logger) *PreValidator {
	if log == nil {
		log = logger.Default()
	}
	return &PreValidator{config: cfg, http: httpFetcher, log: log.WithComponent("pre-validator")}
}

// Validate fetches target and judges whether it looks like a program page.
// relaxed is for URLs that already passed the structural detail check: it
// lowers the signal threshold and skips the listing test.
func (v *PreValidator) Validate(ctx context.Context, target string, relaxed bool) Verdict {
	timeout := v.config.Timeout
	if relaxed {
		timeout = v.config.RelaxedTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	verdict := Verdict{URL: target}
	resp, err := v.http.get(ctx, target)
	if err != nil {
		return v.reject(verdict, fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()

	verdict.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return v.reject(verdict, fmt.Sprintf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return v.reject(verdict, fmt.Sprintf("read failed: %v", err))
	}

	return v.Judge(verdict, string(body), relaxed)
}

// Judge applies the content checks to an already fetched page.
func (v *PreValidator) Judge(verdict Verdict, html string, relaxed bool) Verdict {
	var heading, text string
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		verdict.Title = strings.TrimSpace(doc.Find("title").First().Text())
		heading = strings.ToLower(strings.TrimSpace(doc.Find("h1").First().Text()))
		doc.Find("script, style, noscript").Remove()
		text = strings.ToLower(doc.Find("body").Text())
	}
	title := strings.ToLower(verdict.Title)
	content := strings.ToLower(html)

	if containsAny(title, errorPhrases) || containsAny(heading, errorPhrases) ||
		hasWord(title, errorWords) || hasWord(heading, errorWords) ||
		strings.Contains(text, "seite nicht gefunden") || strings.Contains(text, "tut uns leid") {
		return v.reject(verdict, "error page")
	}
	if len(html) <= v.config.MinContent || len(verdict.Title) <= v.config.MinTitle {
		return v.reject(verdict, fmt.Sprintf("insufficient content (content %d, title %d)", len(html), len(verdict.Title)))
	}

	for _, s := range programSignals {
		if strings.Contains(content, s) {
			verdict.Signals = append(verdict.Signals, s)
		}
	}
	minSignals := v.config.MinSignals
	if relaxed {
		minSignals = 1
	}
	if len(verdict.Signals) < minSignals {
		return v.reject(verdict, fmt.Sprintf("too few program signals (%d < %d)", len(verdict.Signals), minSignals))
	}

	verdict.Links = len(anchorPattern.FindAllStringIndex(html, -1))
	verdict.Listing = containsAny(text, listingPhrases) || hasWord(text, listingWords)
	if !relaxed && verdict.Listing && (verdict.Links > v.config.ManyLinks || verdict.Links > v.config.ListingLinks) {
		return v.reject(verdict, fmt.Sprintf("listing page (%d links)", verdict.Links))
	}

	verdict.Valid = true
	v.log.Debug("url validated", "url", verdict.URL, "signals", len(verdict.Signals))
	return verdict
}

func (v *PreValidator) reject(verdict Verdict, reason string) Verdict {
	verdict.Valid = false
	verdict.Reason = reason
	v.log.Debug("url rejected", "url", verdict.URL, "reason", reason)
	return verdict
}
