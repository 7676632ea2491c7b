package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

// FeedLinks fetches an RSS or Atom feed and returns the item links that are
// program detail pages on the same site as siteURL.
func FeedLinks(ctx context.Context, f Fetcher, feedURL, siteURL string) ([]string, error) {
	res := f.Fetch(ctx, feedURL)
	if !res.OK() {
		if res.Err != nil {
			return nil, fmt.Errorf("failed to fetch feed: %w", res.Err)
		}
		return nil, fmt.Errorf("failed to fetch feed: %s", res.Reason)
	}

	parsed, err := gofeed.NewParser().ParseString(res.HTML)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	site, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse site url: %w", err)
	}

	var out []string
	seen := make(map[string]struct{})
	for _, item := range parsed.Items {
		link := itemLink(item)
		if link == "" {
			continue
		}
		u, err := url.Parse(link)
		if err != nil || !sameSite(site, u) || !IsDetailPage(link) {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out, nil
}

func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return strings.TrimSpace(item.Link)
	}
	if strings.HasPrefix(item.GUID, "http") {
		return strings.TrimSpace(item.GUID)
	}
	return ""
}
