package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// PageLinks are the links found on one page.
type PageLinks struct {
	// Links passed the acceptance policy for the page kind.
	Links []string
	// Pagination leads to more listing content and is always explored.
	Pagination []string
	// All holds every same-site candidate before the acceptance policy.
	All []string
}

// containerSelector matches the card-like elements that wrap a single program
// teaser on listing pages.
const containerSelector = `article, .card, [class*="card"], [class*="teaser"], [class*="item"], [class*="result"], li, tr`

var (
	strongVocabulary = []string{
		"förder", "foerder", "funding", "grant", "programm", "program", "call",
		"ausschreibung", "antrag", "application", "zuschuss", "kredit", "darlehen",
	}
	programPathFragments = []string{
		"/programm", "/foerder", "/förder", "/funding", "/grant", "/call", "/ausschreibung", "/kredit",
	}
	paginationKeywords = []string{
		"page", "seite", "next", "weiter", "naechste", "nächste", "more", "mehr", "pagination",
	}
	paginationParams = []string{"page", "p", "seite", "pg", "pagina", "offset"}

	amountOrDeadline = regexp.MustCompile(`(?i)(€|eur\b|euro|frist|deadline|bis zum|\d{1,2}\.\d{1,2}\.\d{2,4})`)
	pageNumber       = regexp.MustCompile(`^\d{1,3}$`)
)

// LinkExtractor collects candidate program links from a loaded page.
type LinkExtractor struct {
	// Exclusions are href fragments that are dropped before any other check.
	Exclusions []string
}

// NewLinkExtractor creates an extractor with the given exclusion vocabulary.
func NewLinkExtractor(exclusions []string) *LinkExtractor {
	return &LinkExtractor{Exclusions: exclusions}
}

type candidate struct {
	url string
	sel *goquery.Selection
}

// Extract returns the same-site links on a page. On listing pages a link must
// be a detail page or sit in a program-like container; elsewhere any link with
// program vocabulary and two path segments is accepted. keywords extends the
// built-in program vocabulary.
func (e *LinkExtractor) Extract(pageURL, html string, keywords []string) (PageLinks, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return PageLinks{}, fmt.Errorf("failed to parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageLinks{}, fmt.Errorf("failed to parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	candidates := e.candidates(doc, base)
	all := make([]string, 0, len(candidates))
	for _, c := range candidates {
		all = append(all, c.url)
	}

	out := PageLinks{Pagination: FindPaginationLinks(all, pageURL), All: all}
	listing := IsListingURL(pageURL)
	for _, c := range candidates {
		var ok bool
		if listing {
			ok = acceptOnListing(c)
		} else {
			ok = acceptOnDetail(c.url, keywords)
		}
		if ok {
			out.Links = append(out.Links, c.url)
		}
	}
	return out, nil
}

func (e *LinkExtractor) candidates(doc *goquery.Document, base *url.URL) []candidate {
	seen := make(map[string]struct{})
	var out []candidate
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}
		if containsAny(lower, e.Exclusions) {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			return
		}
		resolved.Fragment = ""
		resolved.RawFragment = ""
		if !sameSite(base, resolved) {
			return
		}

		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		out = append(out, candidate{url: link, sel: s})
	})
	return out
}

func acceptOnListing(c candidate) bool {
	if IsDetailPage(c.url) {
		return true
	}
	depth := linkDepth(c.url)

	container := c.sel.Closest(containerSelector)
	if container.Length() > 0 {
		text := strings.ToLower(container.Text())
		if containsAny(text, strongVocabulary) && depth >= 2 {
			return true
		}
		if amountOrDeadline.MatchString(text) && depth >= 3 {
			return true
		}
	}
	return c.sel.Closest("tr").Length() > 0 && depth >= 3
}

func acceptOnDetail(link string, keywords []string) bool {
	if linkDepth(link) < 2 {
		return false
	}
	lower := strings.ToLower(link)
	return containsAny(lower, programKeywords) || containsAny(lower, lowerAll(keywords)) ||
		containsAny(lower, programPathFragments)
}

// FindPaginationLinks returns the links on a related path of the same origin
// that look like next/more/page-number navigation.
func FindPaginationLinks(links []string, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	basePath := base.Path

	var out []string
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil || u.Scheme != base.Scheme || !strings.EqualFold(u.Host, base.Host) {
			continue
		}
		if link == pageURL || !isPaginationLink(u) {
			continue
		}
		if strings.HasPrefix(u.Path, parentPath(basePath)) || strings.HasPrefix(basePath, parentPath(u.Path)) {
			out = append(out, link)
		}
	}
	return out
}

func isPaginationLink(u *url.URL) bool {
	lower := strings.ToLower(u.Path + "?" + u.RawQuery)
	if containsAny(lower, paginationKeywords) {
		return true
	}
	segs := pathSegments(u.Path)
	if len(segs) > 0 && pageNumber.MatchString(segs[len(segs)-1]) {
		return true
	}
	q := u.Query()
	for _, key := range paginationParams {
		if pageNumber.MatchString(q.Get(key)) {
			return true
		}
	}
	return false
}

// parentPath drops the last path element, keeping a trailing slash form:
// "/a/b/" gives "/a/b" and "/a/b" gives "/a".
func parentPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// sameSite reports whether two URLs belong to the same registrable domain.
func sameSite(a, b *url.URL) bool {
	ha, hb := strings.ToLower(a.Hostname()), strings.ToLower(b.Hostname())
	if ha == hb {
		return true
	}
	da, err := publicsuffix.Domain(ha)
	if err != nil {
		return false
	}
	db, err := publicsuffix.Domain(hb)
	if err != nil {
		return false
	}
	return da == db
}

func linkDepth(link string) int {
	u, err := url.Parse(link)
	if err != nil {
		return 0
	}
	return len(pathSegments(u.Path))
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
