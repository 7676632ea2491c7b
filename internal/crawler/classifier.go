package crawler

import (
	"net/url"
	"regexp"
	"strings"
)

// programKeywords mark a URL as funding related.
var programKeywords = []string{
	"foerderung", "program", "grant", "funding", "startup", "innovation",
	"research", "development", "investment", "loan", "equity", "kredit",
	"finanzierung", "darlehen", "subvention", "beihilfe", "leasing",
	"export", "ausbildung", "forschung",
}

// blacklistFragments disqualify a URL when they appear anywhere in it.
var blacklistFragments = []string{
	"cookie", "consent", "newsletter", "imprint", "impressum", "privacy", "datenschutz",
	"login", "signup", "signin", "logout", "sitemap", "conditions", "agreement",
	"not-found", "nicht-gefunden", "tut-leid", "willkommen",
	"kreditkarte", "credit-card", "wohnmesse", "wohnfinanzierung",
	"privatkunden", "sparkasse", "redes-sociales", "social-media",
	"facebook", "twitter", "linkedin", "youtube", "instagram",
	"mailing", "subscribe", "opt-out", "opt-in", "werbung",
	"gdpr", "dsgvo", "feedback", "kreditrechner", "calculator", "kampagne", ".jsp",
	"/lehre/", "/oe/", "/immo/",
}

// blacklistWords disqualify a URL only as whole tokens, so "start" rejects
// /start but not /startup-foerderung.
var blacklistWords = map[string]struct{}{
	"news": {}, "press": {}, "media": {}, "contact": {}, "about": {},
	"register": {}, "account": {}, "legal": {}, "terms": {}, "policy": {},
	"search": {}, "suche": {}, "menu": {}, "navigation": {}, "footer": {}, "header": {},
	"404": {}, "error": {}, "welcome": {}, "home": {}, "start": {}, "index": {},
	"marketing": {}, "banner": {}, "popup": {}, "modal": {}, "overlay": {},
	"faq": {}, "help": {}, "support": {},
}

// categoryIndicators are path endings of listing hubs.
var categoryIndicators = []string{
	"/foerderungen", "/foerderung", "/fundings", "/funding",
	"/funding/portfolio", "/foerdern/foerderportfolio",
	"/programme", "/programs", "/program", "/programma",
	"/spezialprogramme", "/special-programmes", "/special-programms",
	"/overview", "/liste", "/list", "/listing",
	"/wettbewerbe", "/competitions", "/universitaeten", "/universities",
	"/weitere", "/others", "/more", "/weitere-foerderungen",
	"/archiv", "/archive",
	"/investors-incubators", "/investoren-inkubatoren",
	"/unternehmen/kredite", "/unternehmen/finanzierung",
	"/unternehmen/startup", "/unternehmen/leasing",
	"/privatkunden", "/private",
	"/kredite", "/kredit", "/credits", "/credit",
	"/initiative", "/initiativen", "/initiatives",
}

// categoryPrefixes mark listing hubs wherever they appear in the path.
var categoryPrefixes = []string{"/alle-", "/all-", "/thema/", "/topic/", "/topics/"}

// categoryTerms are segment names that never end a detail page path.
var categoryTerms = map[string]struct{}{
	"foerderungen": {}, "programme": {}, "programs": {}, "initiative": {},
	"thema": {}, "kredite": {}, "unternehmen": {},
}

// programSegments introduce a specific program in the next segment.
var programSegments = map[string]struct{}{
	"programme": {}, "program": {}, "programma": {}, "ausschreibung": {},
	"calls": {}, "call": {}, "dep": {}, "heu": {},
}

var (
	nodeIDPattern      = regexp.MustCompile(`/node/\d+`)
	programCodePattern = regexp.MustCompile(`/[a-z]{2,}-[a-z]{2,}-?\d{4}`)
	callPattern        = regexp.MustCompile(`/calls?/[\w-]+`)
	tenderPattern      = regexp.MustCompile(`/ausschreibung/[\w-]+`)
	identifierRun      = regexp.MustCompile(`[\d_-]{5,}`)
	documentPattern    = regexp.MustCompile(`\.(pdf|docx?|xlsx?|pptx?)$`)
	tokenSplit         = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// IsQueryFilter reports whether u is a query-parameter filter listing.
func IsQueryFilter(u string) bool {
	lower := strings.ToLower(u)
	if !strings.Contains(lower, "?") {
		return false
	}
	return strings.Contains(lower, "field_") || strings.Contains(lower, "filter") ||
		strings.Contains(lower, "name%5b") || strings.Contains(lower, "status%5b")
}

// IsDocumentURL reports whether u points at a document or download endpoint.
func IsDocumentURL(u string) bool {
	lower := strings.ToLower(u)
	if strings.Contains(lower, "download") || strings.Contains(lower, "file=") {
		return true
	}
	if parsed, err := url.Parse(lower); err == nil {
		return documentPattern.MatchString(parsed.Path)
	}
	return documentPattern.MatchString(lower)
}

// IsListingURL reports whether u looks like a page listing many programs.
func IsListingURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	p := strings.ToLower(parsed.Path)
	q := strings.ToLower(parsed.RawQuery)
	return strings.Contains(p, "foerderungen") || strings.Contains(p, "program") ||
		strings.Contains(q, "field_") || strings.Contains(q, "filter")
}

// IsOnTopic reports whether u is program related and not blacklisted. Filter
// listings pass when they carry a program keyword; other URLs also need at
// least three path segments unless they carry a program identifier.
func IsOnTopic(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return false
	}
	lower := strings.ToLower(u)
	if isBlacklisted(lower) {
		return false
	}

	hasKeyword := containsAny(lower, programKeywords)
	if IsQueryFilter(lower) {
		return hasKeyword
	}
	if IsDocumentURL(lower) {
		return false
	}

	path := strings.ToLower(parsed.Path)
	identified := hasProgramIdentifier(path)
	if !hasKeyword && !identified {
		return false
	}
	return identified || len(pathSegments(path)) >= 3
}

// IsDetailPage reports whether u describes a single program rather than a
// listing.
func IsDetailPage(u string) bool {
	if !IsOnTopic(u) || IsQueryFilter(u) || IsDocumentURL(u) {
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	path := strings.ToLower(parsed.Path)
	segs := pathSegments(path)

	if isCategoryPath(path) {
		return false
	}
	if hasProgramIdentifier(path) {
		return true
	}

	if len(segs) >= 3 {
		last, secondLast := segs[len(segs)-1], segs[len(segs)-2]
		if isCategoryTerm(last) || isCategoryTerm(secondLast) {
			return false
		}
		if len(last) > 15 || identifierRun.MatchString(last) {
			return true
		}
	}

	if relaxed, ok := institutionDetailRule(strings.ToLower(parsed.Hostname()), path, segs); ok {
		return relaxed
	}

	if len(segs) >= 2 {
		for i, seg := range segs[:len(segs)-1] {
			if _, ok := programSegments[seg]; !ok {
				continue
			}
			next := segs[i+1]
			if len(next) > 5 && !isCategorySegment(next) {
				return true
			}
		}
	}

	return len(segs) >= 4
}

// institutionDetailRule applies per-site shortcuts. ok is false when no rule
// matched.
func institutionDetailRule(host, path string, segs []string) (detail bool, ok bool) {
	if strings.HasSuffix(host, "ffg.at") {
		if (strings.Contains(path, "/ausschreibung/") || strings.Contains(path, "/programm/")) &&
			!strings.HasSuffix(path, "/") && len(segs) >= 2 {
			return true, true
		}
		if strings.Contains(path, "/europa/heu/") && strings.Contains(path, "/calls/") && len(segs) >= 4 {
			return true, true
		}
	}
	return false, false
}

func hasProgramIdentifier(path string) bool {
	return nodeIDPattern.MatchString(path) || programCodePattern.MatchString(path) ||
		callPattern.MatchString(path) || tenderPattern.MatchString(path)
}

func isCategoryPath(path string) bool {
	trimmed := strings.TrimSuffix(path, "/")
	for _, ind := range categoryIndicators {
		if strings.HasSuffix(trimmed, ind) {
			return true
		}
	}
	withSlash := trimmed + "/"
	for _, prefix := range categoryPrefixes {
		if strings.Contains(withSlash, prefix) {
			return true
		}
	}
	return false
}

func isCategoryTerm(seg string) bool {
	_, ok := categoryTerms[seg]
	return ok
}

func isCategorySegment(seg string) bool {
	for _, ind := range categoryIndicators {
		if strings.HasSuffix(ind, "/"+seg) {
			return true
		}
	}
	return isCategoryTerm(seg)
}

func isBlacklisted(lower string) bool {
	if containsAny(lower, blacklistFragments) {
		return true
	}
	for _, tok := range tokenSplit.Split(lower, -1) {
		if _, ok := blacklistWords[tok]; ok {
			return true
		}
	}
	return false
}

// pathSegments splits a URL path into its non-empty segments.
func pathSegments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
