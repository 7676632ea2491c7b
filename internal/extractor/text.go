package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultName        = "Unknown Program"
	defaultDescription = "No description available"
	maxDescription     = 2000
)

var (
	fallbackTitleSelectors = []string{"h1", "h2.title", ".title", ".program-title", ".foerderung-title", "main h1", "article h1"}
	spaceRun               = regexp.MustCompile(`\s+`)
)

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// selectorText returns the text of the first element of the first selector
// that yields more than 10 characters, trying the element text, then its alt
// and title attributes.
func selectorText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		el := doc.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(el.Text()); len(text) > 10 {
			return text
		}
		if alt := strings.TrimSpace(el.AttrOr("alt", "")); len(alt) > 10 {
			return alt
		}
		if title := strings.TrimSpace(el.AttrOr("title", "")); len(title) > 10 {
			return title
		}
	}
	return ""
}

// headingText falls back to generic title elements.
func headingText(doc *goquery.Document) string {
	for _, sel := range fallbackTitleSelectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		lower := strings.ToLower(text)
		if len(text) > 5 && !strings.Contains(lower, "newsletter") && !strings.Contains(lower, "404") {
			return text
		}
	}
	return ""
}

// ExtractName returns the program name found by the selectors or a heading.
func ExtractName(doc *goquery.Document, selectors []string) string {
	name := selectorText(doc, selectors)
	if name == "" {
		name = headingText(doc)
	}
	if name = normalizeSpace(name); name == "" {
		return defaultName
	}
	return name
}

// ExtractDescription returns the selector text, else the meta description,
// else the first paragraph of 50 to 1000 characters in the main content. The
// result is whitespace-normalised and cut at 2000 characters.
func ExtractDescription(doc *goquery.Document, selectors []string) string {
	desc := selectorText(doc, selectors)
	if desc == "" {
		desc = headingText(doc)
	}

	if len(desc) < 20 {
		for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
			if meta := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); len(meta) > 20 {
				desc = meta
				break
			}
		}
	}

	if len(desc) < 20 {
		doc.Find("main p, article p, .content p, .description p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
			text := strings.TrimSpace(p.Text())
			if len(text) > 50 && len(text) < 1000 {
				desc = text
				return false
			}
			return true
		})
	}

	desc = normalizeSpace(desc)
	if desc == "" {
		return defaultDescription
	}
	if len(desc) > maxDescription {
		desc = truncateUTF8(desc, maxDescription) + "..."
	}
	return desc
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// pageText returns the visible body text. Script, style and noscript
// elements are dropped from the document.
func pageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	return doc.Find("body").Text()
}
