package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/extractor"
	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/internal/realtime"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/google/uuid"
)

// OrchestratorConfig tunes scrape runs.
type OrchestratorConfig struct {
	Concurrency      int
	ShortConcurrency int
	// Per-institution URL caps for full, cycle and short-cycle runs.
	FullCap  int
	CycleCap int
	ShortCap int
	// Freshness skips URLs scraped more recently than this.
	Freshness   time.Duration
	QuickBudget time.Duration
}

// DefaultOrchestratorConfig returns the default run tuning.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Concurrency:      35,
		ShortConcurrency: 20,
		FullCap:          250,
		CycleCap:         100,
		ShortCap:         10,
		Freshness:        24 * time.Hour,
		QuickBudget:      30 * time.Second,
	}
}

// RunOptions select what a run does.
type RunOptions struct {
	Targets    []string
	Mode       string
	CycleOnly  bool
	ShortCycle bool
	ScrapeOnly bool
	MaxURLs    int
}

// RunResult is the outcome of ScrapeAll. Programs is the merged store
// content, or empty when the run failed.
type RunResult struct {
	Programs []storage.ScrapedProgram
	Stats    RunStats
}

// DiscoverySummary is the outcome of DiscoverURLsOnly.
type DiscoverySummary struct {
	NewURLs     int           `json:"new_urls"`
	TotalURLs   int           `json:"total_urls"`
	TimeElapsed time.Duration `json:"time_elapsed"`
}

// Dependencies are the collaborators of an Orchestrator. Archive, Lock,
// Events and Browser may be nil.
type Dependencies struct {
	Registry  institution.Registry
	Learned   map[string]institution.LearnedKeywords
	Discovery *DiscoveryEngine
	Fetcher   Fetcher
	Extractor *extractor.Extractor
	Programs  *storage.ProgramStore
	States    *storage.DiscoveryStore
	Archive   storage.Archive
	Lock      *storage.Lock
	Events    realtime.Publisher
	// Browser is closed at the end of every run.
	Browser io.Closer
}

// Orchestrator runs discovery and scraping across institutions.
type Orchestrator struct {
	config  OrchestratorConfig
	deps    Dependencies
	metrics *Metrics
	log     *logger.Logger
	Clock   func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, deps Dependencies, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	if deps.Events == nil {
		deps.Events = realtime.NopPublisher{}
	}
	if deps.Learned == nil {
		deps.Learned = map[string]institution.LearnedKeywords{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultOrchestratorConfig().Concurrency
	}
	if cfg.ShortConcurrency <= 0 {
		cfg.ShortConcurrency = cfg.Concurrency
	}
	return &Orchestrator{
		config:  cfg,
		deps:    deps,
		metrics: NewMetrics(),
		log:     log.WithComponent("orchestrator"),
		Clock:   time.Now,
	}
}

// Metrics returns the accumulated counters.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Registry returns the institutions the orchestrator works on.
func (o *Orchestrator) Registry() institution.Registry { return o.deps.Registry }

// ScrapeAll discovers and scrapes every selected institution, merges the new
// records into the program store and returns the merged list. Failures never
// escape: a broken browser or an unavailable store yields an empty result
// with Stats.Error set.
func (o *Orchestrator) ScrapeAll(ctx context.Context, opts RunOptions) RunResult {
	start := o.Clock()
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}
	stats := RunStats{RunID: uuid.New().String(), Mode: opts.Mode}
	ctx = context.WithValue(ctx, logger.RunIDKey, stats.RunID)
	log := o.log.WithContext(ctx)

	o.metrics.CurrentActive.Add(1)
	defer o.metrics.CurrentActive.Add(-1)

	fail := func(err error) RunResult {
		stats.Error = err.Error()
		stats.Elapsed = o.Clock().Sub(start)
		log.WithError(err).Error("scrape run failed")
		o.finishRun(ctx, stats)
		return RunResult{Programs: []storage.ScrapedProgram{}, Stats: stats}
	}

	unlock, err := o.acquire()
	if err != nil {
		return fail(err)
	}
	defer unlock()
	defer o.closeBrowser()

	if opts.Mode == ModeDeep {
		log.Info("deep mode, clearing discovery state")
		if err := o.deps.States.Clear(); err != nil {
			return fail(err)
		}
	}

	existing := o.deps.Programs.Load()
	existingURLs := storage.SourceURLs(existing)
	lastScraped := storage.LatestScrape(existing)

	institutions := o.deps.Registry.Filter(opts.Targets)
	stats.Institutions = len(institutions)
	log.Info("starting scrape run",
		"institutions", len(institutions),
		"existing", len(existing),
		"cycle", opts.CycleOnly,
		"short", opts.ShortCycle,
		"mode", opts.Mode,
	)

	var fresh []storage.ScrapedProgram
	for _, base := range institutions {
		if ctx.Err() != nil {
			log.Warn("run cancelled, stopping before next institution")
			break
		}
		inst := institution.MergeKeywords(base, o.deps.Learned)

		programs, err := o.scrapeInstitution(ctx, inst, opts, existingURLs, lastScraped, &stats)
		if errors.Is(err, ErrBrowserUnavailable) {
			return fail(err)
		}
		if err != nil {
			log.WithInstitution(inst.Name).WithError(err).Warn("institution failed, continuing")
		}
		fresh = append(fresh, programs...)
	}

	merged := storage.MergePrograms(existing, fresh)
	if err := o.persist(ctx, merged); err != nil {
		return fail(err)
	}

	stats.Total = len(merged)
	stats.Elapsed = o.Clock().Sub(start)
	log.Info("scrape run finished",
		"scraped", stats.Scraped,
		"rejected", stats.Rejected,
		"failed", stats.Failed,
		"total", stats.Total,
		"elapsed", stats.Elapsed,
	)
	o.finishRun(ctx, stats)
	return RunResult{Programs: merged, Stats: stats}
}

func (o *Orchestrator) scrapeInstitution(
	ctx context.Context,
	inst institution.Config,
	opts RunOptions,
	existing map[string]struct{},
	lastScraped map[string]time.Time,
	stats *RunStats,
) ([]storage.ScrapedProgram, error) {
	log := o.log.WithContext(ctx).WithInstitution(inst.Name)

	if opts.ScrapeOnly {
		log.Info("scrape-only mode, skipping discovery")
	} else {
		report, err := o.deps.Discovery.Discover(ctx, inst, DiscoveryOptions{Mode: opts.Mode, Existing: existing})
		o.metrics.Discoveries.Add(1)
		if err != nil {
			if errors.Is(err, ErrBrowserUnavailable) {
				return nil, err
			}
			log.WithError(err).Warn("discovery incomplete")
		}
		o.publishDiscovery(ctx, opts.Mode, report)
	}

	state := o.deps.States.Load(inst.Name)
	urls := PrioritizeURLs(state.UnscrapedURLs, existing)
	if limit := o.urlCap(opts); len(urls) > limit {
		urls = urls[:limit]
	}

	learned := o.deps.Learned[inst.Key()]
	candidates := o.filterURLs(urls, lastScraped, learned)
	stats.Candidates += len(urls)
	stats.Filtered += len(urls) - len(candidates)

	concurrency := o.config.Concurrency
	if opts.ShortCycle {
		concurrency = o.config.ShortConcurrency
	}
	log.Info("scraping institution",
		"unscraped", len(state.UnscrapedURLs),
		"selected", len(urls),
		"candidates", len(candidates),
		"concurrency", concurrency,
	)

	return o.scrapeBatches(ctx, inst, candidates, concurrency, stats)
}

func (o *Orchestrator) urlCap(opts RunOptions) int {
	switch {
	case opts.MaxURLs > 0:
		return opts.MaxURLs
	case opts.CycleOnly && opts.ShortCycle:
		return o.config.ShortCap
	case opts.CycleOnly:
		return o.config.CycleCap
	default:
		return o.config.FullCap
	}
}

var (
	denyFragments = []string{
		"wohn", "miete", "privat", "haushalt", "familie", "schule", "student",
		"/awards/", "/award", "/preis", "/preise/", "/events/", "/veranstaltungen/", "/news/", "/press",
		"/downloads/", "/download/", "/fileadmin/", "/media/", "/blog/",
	}
	allowFragments = []string{
		"foerder", "förder", "grant", "funding", "programm", "programme", "support",
		"unternehmen", "kmu", "sme", "startup", "apply", "antrag",
	}
)

// filterURLs applies the cheap checks that run before any fetch.
func (o *Orchestrator) filterURLs(urls []string, lastScraped map[string]time.Time, learned institution.LearnedKeywords) []string {
	now := o.Clock()
	deny := append(append([]string{}, denyFragments...), lowerAll(learned.DenyFragments)...)
	allow := append(append([]string{}, allowFragments...), lowerAll(learned.AllowFragments)...)

	var out []string
	for _, u := range urls {
		if at, ok := lastScraped[u]; ok && now.Sub(at) < o.config.Freshness {
			continue
		}
		if IsQueryFilter(u) || IsDocumentURL(u) {
			continue
		}
		lower := strings.ToLower(u)
		if containsAny(lower, deny) || !containsAny(lower, allow) {
			continue
		}
		if !IsDetailPage(u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

var programPathPattern = regexp.MustCompile(`(?i)/(program|foerderung|grant|kredit|darlehen)[^/]*$`)

// PrioritizeURLs orders urls with never-scraped URLs first, then URLs whose
// last path segment names a program. The sort is stable.
func PrioritizeURLs(urls []string, existing map[string]struct{}) []string {
	out := append([]string(nil), urls...)
	rank := func(u string) int {
		r := 0
		if _, done := existing[u]; done {
			r += 2
		}
		if !programPathPattern.MatchString(u) {
			r++
		}
		return r
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

type scrapeOutcome struct {
	url      string
	program  storage.ScrapedProgram
	ok       bool
	rejected bool
	reason   string
	err      error
	fatal    bool
}

// scrapeBatches fetches and extracts urls in batches of size concurrency.
// Each batch completes before the next one starts.
func (o *Orchestrator) scrapeBatches(ctx context.Context, inst institution.Config, urls []string, concurrency int, stats *RunStats) ([]storage.ScrapedProgram, error) {
	log := o.log.WithContext(ctx).WithInstitution(inst.Name)
	var programs []storage.ScrapedProgram
	totalBatches := (len(urls) + concurrency - 1) / concurrency

	for i := 0; i < len(urls); i += concurrency {
		if ctx.Err() != nil {
			return programs, ctx.Err()
		}
		batch := urls[i:min(i+concurrency, len(urls))]
		results := make([]scrapeOutcome, len(batch))

		var wg sync.WaitGroup
		for j, u := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[j] = o.scrapeOne(ctx, inst, u)
			}()
		}
		wg.Wait()

		var fatalErr error
		for _, r := range results {
			switch {
			case r.fatal:
				fatalErr = r.err
			case r.ok:
				programs = append(programs, r.program)
				stats.Scraped++
				o.publishProgram(ctx, r.program)
			case r.rejected:
				stats.Rejected++
				log.Debug("page rejected", "url", r.url, "reason", r.reason)
			default:
				stats.Failed++
				log.WithError(r.err).Warn("page skipped", "url", r.url, "reason", r.reason)
			}
		}
		log.Info("batch finished",
			"batch", i/concurrency+1,
			"batches", totalBatches,
			"programs", len(programs),
		)
		if fatalErr != nil {
			return programs, fatalErr
		}
	}
	return programs, nil
}

func (o *Orchestrator) scrapeOne(ctx context.Context, inst institution.Config, pageURL string) scrapeOutcome {
	res := o.deps.Fetcher.Fetch(ctx, pageURL)
	switch res.Outcome {
	case OutcomeFatal:
		return scrapeOutcome{url: pageURL, fatal: true, err: res.Err, reason: res.Reason}
	case OutcomeSkip:
		return scrapeOutcome{url: pageURL, err: res.Err, reason: res.Reason}
	}

	ex := o.deps.Extractor.Extract(res.HTML, pageURL, inst)
	if !ex.OK() {
		return scrapeOutcome{url: pageURL, err: ex.Err, reason: ex.Reason}
	}
	if !IsValidProgram(ex.Program) {
		return scrapeOutcome{url: pageURL, rejected: true, reason: "filtered"}
	}
	return scrapeOutcome{url: pageURL, program: ex.Program, ok: true}
}

// DiscoverURLsOnly runs a time-boxed discovery for inst without scraping.
// Errors are logged and reported as a zero summary.
func (o *Orchestrator) DiscoverURLsOnly(ctx context.Context, inst institution.Config, budget time.Duration, mode string) DiscoverySummary {
	start := o.Clock()
	if budget <= 0 {
		budget = o.config.QuickBudget
	}
	if mode == "" {
		mode = ModeIncremental
	}
	log := o.log.WithContext(ctx).WithInstitution(inst.Name)
	zero := func(err error) DiscoverySummary {
		log.WithError(err).Error("quick discovery failed")
		return DiscoverySummary{TimeElapsed: o.Clock().Sub(start)}
	}

	unlock, err := o.acquire()
	if err != nil {
		return zero(err)
	}
	defer unlock()
	defer o.closeBrowser()

	inst = institution.MergeKeywords(inst, o.deps.Learned)
	before := len(o.deps.States.Load(inst.Name).UnscrapedURLs)
	existing := storage.SourceURLs(o.deps.Programs.Load())

	report, err := o.deps.Discovery.Discover(ctx, inst, DiscoveryOptions{Mode: mode, Budget: budget, Existing: existing})
	o.metrics.Discoveries.Add(1)
	if err != nil {
		return zero(err)
	}
	o.publishDiscovery(ctx, mode, report)

	after := report.Unscraped
	summary := DiscoverySummary{
		NewURLs:     max(0, after-before),
		TotalURLs:   after,
		TimeElapsed: o.Clock().Sub(start),
	}
	log.Info("quick discovery finished",
		"new", summary.NewURLs,
		"total", summary.TotalURLs,
		"elapsed", summary.TimeElapsed,
	)
	return summary
}

// Cleanup prunes local snapshots and, when configured, archived ones.
func (o *Orchestrator) Cleanup(ctx context.Context, keep int) error {
	removed, err := o.deps.Programs.PruneSnapshots(keep)
	if err != nil {
		return fmt.Errorf("failed to prune local snapshots: %w", err)
	}
	if o.deps.Archive == nil {
		return nil
	}
	archived, err := storage.PruneArchive(ctx, o.deps.Archive, keep)
	if err != nil {
		return fmt.Errorf("failed to prune archived snapshots: %w", err)
	}
	o.log.Info("cleanup finished", "local_removed", len(removed), "archive_removed", len(archived))
	return nil
}

func (o *Orchestrator) acquire() (func(), error) {
	if o.deps.Lock == nil {
		return func() {}, nil
	}
	if err := o.deps.Lock.TryLock(); err != nil {
		return nil, err
	}
	return func() {
		if err := o.deps.Lock.Unlock(); err != nil {
			o.log.WithError(err).Warn("failed to release data directory lock")
		}
	}, nil
}

func (o *Orchestrator) closeBrowser() {
	if o.deps.Browser == nil {
		return
	}
	if err := o.deps.Browser.Close(); err != nil {
		o.log.WithError(err).Warn("failed to close browser")
	}
}

// persist writes the merged programs, a dated snapshot and, when an archive is
// configured, an archived copy. Only the main document write is fatal.
func (o *Orchestrator) persist(ctx context.Context, programs []storage.ScrapedProgram) error {
	data, err := o.deps.Programs.Save(programs)
	if err != nil {
		return fmt.Errorf("failed to save programs: %w", err)
	}
	if _, err := o.deps.Programs.SaveSnapshot(programs); err != nil {
		o.log.WithError(err).Warn("failed to write snapshot")
	}
	if o.deps.Archive != nil {
		key, err := o.deps.Archive.Upload(ctx, storage.SnapshotName(o.Clock()), data)
		if err != nil {
			o.log.WithError(err).Warn("failed to archive programs document")
		} else {
			o.log.Info("archived programs document", "key", key)
		}
	}
	return nil
}

func (o *Orchestrator) publishProgram(ctx context.Context, p storage.ScrapedProgram) {
	ev := realtime.NewProgramScrapedEvent(p.ID, p.SourceURL, p.Institution, p.Name, p.Deadline, p.ScrapedAt)
	if err := o.deps.Events.PublishProgramScraped(ctx, ev); err != nil {
		o.log.WithError(err).Warn("failed to publish program event", "url", p.SourceURL)
	}
}

func (o *Orchestrator) publishDiscovery(ctx context.Context, mode string, r DiscoveryReport) {
	ev := realtime.NewDiscoveryCompletedEvent(r.Institution, mode, r.Known, r.Unscraped, r.NewUnscraped, r.Elapsed, r.BudgetExceeded)
	if err := o.deps.Events.PublishDiscoveryCompleted(ctx, ev); err != nil {
		o.log.WithError(err).Warn("failed to publish discovery event", "institution", r.Institution)
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, s RunStats) {
	o.metrics.recordRun(s, o.Clock())

	ev := realtime.NewRunCompletedEvent(s.RunID, s.Mode)
	ev.Institutions = s.Institutions
	ev.Scraped = s.Scraped
	ev.Rejected = s.Rejected
	ev.Failed = s.Failed
	ev.Total = s.Total
	ev.ElapsedMs = s.Elapsed.Milliseconds()
	ev.Error = s.Error
	if err := o.deps.Events.PublishRunCompleted(ctx, ev); err != nil {
		o.log.WithError(err).Warn("failed to publish run event")
	}
}
