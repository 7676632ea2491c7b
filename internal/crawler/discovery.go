package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
)

// Discovery modes.
const (
	ModeIncremental = "incremental"
	ModeDeep        = "deep"
)

// DiscoveryConfig bounds one institution's crawl.
type DiscoveryConfig struct {
	MaxDepth      int
	MaxDiscovered int
	PageTimeout   time.Duration
}

// DefaultDiscoveryConfig returns default discovery bounds.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		MaxDepth:      4,
		MaxDiscovered: 500,
		PageTimeout:   10 * time.Second,
	}
}

// DiscoveryOptions control a single discovery call.
type DiscoveryOptions struct {
	Mode string
	// Budget caps wall time when positive.
	Budget time.Duration
	// Existing holds source URLs already in the programs store.
	Existing map[string]struct{}
}

// DiscoveryReport summarises one institution's discovery.
type DiscoveryReport struct {
	Institution    string        `json:"institution"`
	Explored       int           `json:"explored"`
	Failed         int           `json:"failed"`
	Discovered     int           `json:"discovered"`
	Known          int           `json:"known"`
	Unscraped      int           `json:"unscraped"`
	NewUnscraped   int           `json:"new_unscraped"`
	Elapsed        time.Duration `json:"elapsed"`
	BudgetExceeded bool          `json:"budget_exceeded"`
}

// DiscoveryEngine walks an institution's site breadth-first from its seed URLs
// and keeps the discovery state store up to date.
type DiscoveryEngine struct {
	config  DiscoveryConfig
	fetcher Fetcher
	links   *LinkExtractor
	states  *storage.DiscoveryStore
	log     *logger.Logger
	Clock   func() time.Time
}

// NewDiscoveryEngine creates a new discovery engine.
func NewDiscoveryEngine(cfg DiscoveryConfig, fetcher Fetcher, links *LinkExtractor, states *storage.DiscoveryStore, log *logger.Logger) *DiscoveryEngine {
	if log == nil {
		log = logger.Default()
	}
	if links == nil {
		links = NewLinkExtractor(institution.ExclusionKeywords)
	}
	return &DiscoveryEngine{
		config:  cfg,
		fetcher: fetcher,
		links:   links,
		states:  states,
		log:     log.WithComponent("discovery"),
		Clock:   time.Now,
	}
}

type queueItem struct {
	url   string
	depth int
	seed  string
}

// orderedSet keeps insertion order for log output and section snapshots.
type orderedSet struct {
	index map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet { return &orderedSet{index: make(map[string]struct{})} }

func (s *orderedSet) add(u string) bool {
	if _, ok := s.index[u]; ok {
		return false
	}
	s.index[u] = struct{}{}
	s.items = append(s.items, u)
	return true
}

func (s *orderedSet) has(u string) bool { _, ok := s.index[u]; return ok }
func (s *orderedSet) len() int          { return len(s.items) }

// Discover explores inst and persists the refreshed state. Per-page failures
// are logged and skipped; only ErrBrowserUnavailable is returned from a fetch.
func (e *DiscoveryEngine) Discover(ctx context.Context, inst institution.Config, opts DiscoveryOptions) (DiscoveryReport, error) {
	start := e.Clock()
	log := e.log.WithInstitution(inst.Name)
	report := DiscoveryReport{Institution: inst.Name}

	state := e.states.Load(inst.Name)
	previousUnscraped := len(state.UnscrapedURLs)
	existing := opts.Existing
	if existing == nil {
		existing = map[string]struct{}{}
	}

	discovered := newOrderedSet()
	var queue []queueItem
	for _, seed := range inst.ProgramURLs {
		if discovered.add(seed) {
			queue = append(queue, queueItem{url: seed, depth: 0, seed: seed})
		}
	}

	// Detail pages found by earlier runs that are still unscraped stay in play.
	for _, sec := range state.ExploredSections {
		for _, u := range sec.DiscoveredURLs {
			if _, done := existing[u]; !done && IsDetailPage(u) {
				discovered.add(u)
			}
		}
	}

	for _, feedURL := range inst.FeedURLs {
		links, err := FeedLinks(ctx, e.fetcher, feedURL, inst.BaseURL)
		if err != nil {
			log.WithError(err).Warn("failed to read feed", "feed", feedURL)
			continue
		}
		for _, l := range links {
			discovered.add(l)
		}
	}

	log.Info("starting discovery", "mode", opts.Mode, "seeds", len(queue), "budget", opts.Budget)

	var fatalErr error
	for len(queue) > 0 && discovered.len() < e.config.MaxDiscovered {
		if ctx.Err() != nil {
			break
		}
		if opts.Budget > 0 && e.Clock().Sub(start) >= opts.Budget {
			report.BudgetExceeded = true
			log.Info("discovery time budget exhausted", "queue", len(queue), "discovered", discovered.len())
			break
		}

		item := queue[0]
		queue = queue[1:]
		if item.depth > e.config.MaxDepth {
			continue
		}

		page, err := e.pageLinks(ctx, item.url, inst.Keywords)
		if err != nil {
			if errors.Is(err, ErrBrowserUnavailable) {
				fatalErr = err
				break
			}
			report.Failed++
			log.WithError(err).Warn("failed to explore page", "url", item.url, "depth", item.depth)
			continue
		}
		report.Explored++

		canQueue := item.depth < e.config.MaxDepth
		enqueue := func(link string) {
			if canQueue && discovered.add(link) {
				queue = append(queue, queueItem{url: link, depth: item.depth + 1, seed: item.seed})
			}
		}

		for _, link := range page.Pagination {
			if link == item.url {
				continue
			}
			if IsDetailPage(link) {
				discovered.add(link)
				continue
			}
			enqueue(link)
		}
		for _, link := range page.Links {
			if link == item.url || discovered.has(link) {
				continue
			}
			switch {
			case IsDetailPage(link):
				discovered.add(link)
			case IsOnTopic(link):
				enqueue(link)
			}
		}
		// Catch detail links the container heuristic missed.
		for _, link := range page.All {
			if link == item.url || discovered.has(link) || !IsOnTopic(link) {
				continue
			}
			if IsDetailPage(link) {
				discovered.add(link)
				continue
			}
			enqueue(link)
		}

		state.TouchSection(item.seed, e.Clock().UTC(), discovered.items, item.depth)
		log.Debug("explored page",
			"url", item.url,
			"depth", item.depth,
			"links", len(page.Links),
			"queue", len(queue),
			"discovered", discovered.len(),
		)
	}

	state.KnownURLs = storage.SortedSet(state.KnownURLs, discovered.items)
	state.UnscrapedURLs = UnscrapedURLs(state.KnownURLs, existing)
	if opts.Mode == ModeDeep && fatalErr == nil {
		now := e.Clock().UTC()
		state.LastFullScan = &now
	}
	if err := e.states.Save(inst.Name, state); err != nil {
		return report, fmt.Errorf("failed to save discovery state: %w", err)
	}

	report.Discovered = discovered.len()
	report.Known = len(state.KnownURLs)
	report.Unscraped = len(state.UnscrapedURLs)
	report.NewUnscraped = max(0, report.Unscraped-previousUnscraped)
	report.Elapsed = e.Clock().Sub(start)

	log.Info("discovery finished",
		"explored", report.Explored,
		"known", report.Known,
		"unscraped", report.Unscraped,
		"elapsed", report.Elapsed,
	)

	if fatalErr != nil {
		return report, fatalErr
	}
	return report, ctx.Err()
}

func (e *DiscoveryEngine) pageLinks(ctx context.Context, pageURL string, keywords []string) (PageLinks, error) {
	pageCtx := ctx
	if e.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, e.config.PageTimeout)
		defer cancel()
	}

	res := e.fetcher.Fetch(pageCtx, pageURL)
	switch res.Outcome {
	case OutcomeFatal:
		return PageLinks{}, res.Err
	case OutcomeSkip:
		if res.Err != nil {
			return PageLinks{}, fmt.Errorf("%s: %w", res.Reason, res.Err)
		}
		return PageLinks{}, errors.New(res.Reason)
	}
	return e.links.Extract(pageURL, res.HTML, keywords)
}

// UnscrapedURLs returns the detail pages in known that are not in existing.
func UnscrapedURLs(known []string, existing map[string]struct{}) []string {
	out := []string{}
	for _, u := range known {
		if _, done := existing[u]; done {
			continue
		}
		if IsQueryFilter(u) || IsDocumentURL(u) || !IsDetailPage(u) {
			continue
		}
		out = append(out, u)
	}
	return out
}
