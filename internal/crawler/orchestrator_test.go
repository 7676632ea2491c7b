package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/extractor"
	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/internal/realtime"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RecordingPublisher keeps every published event.
type RecordingPublisher struct {
	mu          sync.Mutex
	programs    []realtime.ProgramScrapedEvent
	discoveries []realtime.DiscoveryCompletedEvent
	runs        []realtime.RunCompletedEvent
}

func (p *RecordingPublisher) PublishProgramScraped(_ context.Context, e realtime.ProgramScrapedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.programs = append(p.programs, e)
	return nil
}

func (p *RecordingPublisher) PublishDiscoveryCompleted(_ context.Context, e realtime.DiscoveryCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveries = append(p.discoveries, e)
	return nil
}

func (p *RecordingPublisher) PublishRunCompleted(_ context.Context, e realtime.RunCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, e)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// MemoryArchive is an in-memory storage.Archive.
type MemoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: make(map[string][]byte)}
}

func (a *MemoryArchive) Upload(_ context.Context, name string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := storage.SnapshotKey(name)
	a.objects[key] = data
	return key, nil
}

func (a *MemoryArchive) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []storage.ObjectInfo
	for k, v := range a.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (a *MemoryArchive) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, key)
	return nil
}

func (a *MemoryArchive) Health(context.Context) error { return nil }

type closeCounter struct{ calls atomic.Int32 }

func (c *closeCounter) Close() error {
	c.calls.Add(1)
	return nil
}

type testEnv struct {
	orch     *Orchestrator
	programs *storage.ProgramStore
	states   *storage.DiscoveryStore
	lock     *storage.Lock
	events   *RecordingPublisher
	archive  *MemoryArchive
	browser  *closeCounter
	dir      string
}

func newTestEnv(t *testing.T, f Fetcher, cfg OrchestratorConfig) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log := logger.Discard()

	lock, err := storage.NewLock(dir, log)
	require.NoError(t, err)

	env := &testEnv{
		programs: storage.NewProgramStore(dir, log),
		states:   storage.NewDiscoveryStore(dir, log),
		lock:     lock,
		events:   &RecordingPublisher{},
		archive:  NewMemoryArchive(),
		browser:  &closeCounter{},
		dir:      dir,
	}
	env.orch = NewOrchestrator(cfg, Dependencies{
		Registry:  institution.Registry{testInstitution(t)},
		Discovery: NewDiscoveryEngine(DefaultDiscoveryConfig(), f, nil, env.states, log),
		Fetcher:   f,
		Extractor: extractor.New(extractor.DefaultConfig(), log),
		Programs:  env.programs,
		States:    env.states,
		Archive:   env.archive,
		Lock:      lock,
		Events:    env.events,
		Browser:   env.browser,
	}, log)
	return env
}

func TestScrapeAll(t *testing.T) {
	env := newTestEnv(t, NewMockFetcher(sitePages()), DefaultOrchestratorConfig())

	result := env.orch.ScrapeAll(context.Background(), RunOptions{})
	require.Empty(t, result.Stats.Error)

	// The node URL carries no funding vocabulary, so the cheap URL filter drops it.
	urls := make([]string, 0, len(result.Programs))
	for _, p := range result.Programs {
		urls = append(urls, p.SourceURL)
		assert.Equal(t, "Austria Wirtschaftsservice (AWS)", p.Institution)
		assert.True(t, IsValidProgram(p))
	}
	assert.ElementsMatch(t, []string{preseedURL, digitalURL}, urls)

	assert.Equal(t, 1, result.Stats.Institutions)
	assert.Equal(t, 3, result.Stats.Candidates)
	assert.Equal(t, 1, result.Stats.Filtered)
	assert.Equal(t, 2, result.Stats.Scraped)
	assert.Equal(t, 2, result.Stats.Total)

	stored := env.programs.Load()
	assert.Len(t, stored, 2)
	snaps, err := env.programs.Snapshots()
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
	assert.Len(t, env.archive.objects, 1)

	assert.Len(t, env.events.programs, 2)
	assert.Len(t, env.events.discoveries, 1)
	require.Len(t, env.events.runs, 1)
	assert.Equal(t, result.Stats.RunID, env.events.runs[0].RunID)
	assert.Equal(t, int32(1), env.browser.calls.Load())

	m := env.orch.Metrics().Snapshot()
	assert.Equal(t, int64(1), m.Runs)
	assert.Equal(t, int64(2), m.ProgramsScraped)
	assert.Equal(t, int64(0), m.CurrentActive)

	// The lock is released after the run.
	require.NoError(t, env.lock.TryLock())
	require.NoError(t, env.lock.Unlock())
}

func TestScrapeAllSecondRunKeepsRecords(t *testing.T) {
	env := newTestEnv(t, NewMockFetcher(sitePages()), DefaultOrchestratorConfig())

	first := env.orch.ScrapeAll(context.Background(), RunOptions{})
	require.Len(t, first.Programs, 2)

	second := env.orch.ScrapeAll(context.Background(), RunOptions{})
	assert.Empty(t, second.Stats.Error)
	assert.Equal(t, 0, second.Stats.Scraped)
	assert.Len(t, second.Programs, 2)

	state := env.states.Load(testInstitution(t).Name)
	assert.Equal(t, []string{garantieURL}, state.UnscrapedURLs)
}

func TestScrapeAllLockedReturnsEmpty(t *testing.T) {
	env := newTestEnv(t, NewMockFetcher(sitePages()), DefaultOrchestratorConfig())

	other, err := storage.NewLock(env.dir, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, other.TryLock())
	defer other.Unlock()

	result := env.orch.ScrapeAll(context.Background(), RunOptions{})
	assert.Empty(t, result.Programs)
	assert.NotNil(t, result.Programs)
	assert.Contains(t, result.Stats.Error, "locked")
	assert.Empty(t, env.programs.Load())
	assert.Equal(t, int64(1), env.orch.Metrics().Snapshot().FailedRuns)
}

func TestScrapeAllBrowserUnavailable(t *testing.T) {
	fetcher := NewMockFetcher(sitePages())
	fetcher.fatal[seedURL] = true
	env := newTestEnv(t, fetcher, DefaultOrchestratorConfig())

	result := env.orch.ScrapeAll(context.Background(), RunOptions{})
	assert.Empty(t, result.Programs)
	assert.Contains(t, result.Stats.Error, ErrBrowserUnavailable.Error())
	assert.Equal(t, int32(1), env.browser.calls.Load())
	require.Len(t, env.events.runs, 1)
	assert.NotEmpty(t, env.events.runs[0].Error)
}

func TestScrapeAllDeepClearsState(t *testing.T) {
	env := newTestEnv(t, NewMockFetcher(sitePages()), DefaultOrchestratorConfig())

	stale := storage.NewDiscoveryState()
	stale.KnownURLs = []string{"https://www.aws.at/foerderungen/alt/abgelaufene-foerderung-2019"}
	require.NoError(t, env.states.Save("Some Other Institution", stale))

	result := env.orch.ScrapeAll(context.Background(), RunOptions{Mode: ModeDeep})
	require.Empty(t, result.Stats.Error)

	all := env.states.All()
	assert.NotContains(t, all, "Some Other Institution")
	state := env.states.Load(testInstitution(t).Name)
	assert.NotNil(t, state.LastFullScan)
}

// concurrencyFetcher serves a valid program page for every URL and records the
// highest number of fetches in flight.
type concurrencyFetcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	total    atomic.Int32
}

func (f *concurrencyFetcher) Fetch(ctx context.Context, target string) Result {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.total.Add(1)
	time.Sleep(5 * time.Millisecond)
	return fetched(target, programPage("Digitalisierungsfoerderung fuer KMU"), SourceHTTP, http.StatusOK)
}

func TestScrapeAllBoundsConcurrency(t *testing.T) {
	fetcher := &concurrencyFetcher{}
	env := newTestEnv(t, fetcher, DefaultOrchestratorConfig())

	state := storage.NewDiscoveryState()
	for i := 0; i < 100; i++ {
		state.UnscrapedURLs = append(state.UnscrapedURLs, fmt.Sprintf("https://www.aws.at/foerderungen/programm-digital-%04d", i))
	}
	state.KnownURLs = state.UnscrapedURLs
	require.NoError(t, env.states.Save(testInstitution(t).Name, state))

	result := env.orch.ScrapeAll(context.Background(), RunOptions{ScrapeOnly: true})
	require.Empty(t, result.Stats.Error)

	assert.Equal(t, int32(100), fetcher.total.Load())
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(35))
	assert.Equal(t, 100, result.Stats.Scraped)
	assert.Len(t, result.Programs, 100)
	assert.Empty(t, env.events.discoveries)
}

func TestScrapeAllCycleCaps(t *testing.T) {
	fetcher := &concurrencyFetcher{}
	cfg := DefaultOrchestratorConfig()
	env := newTestEnv(t, fetcher, cfg)

	state := storage.NewDiscoveryState()
	for i := 0; i < 30; i++ {
		state.UnscrapedURLs = append(state.UnscrapedURLs, fmt.Sprintf("https://www.aws.at/foerderungen/programm-digital-%04d", i))
	}
	require.NoError(t, env.states.Save(testInstitution(t).Name, state))

	result := env.orch.ScrapeAll(context.Background(), RunOptions{ScrapeOnly: true, CycleOnly: true, ShortCycle: true})
	assert.Equal(t, cfg.ShortCap, result.Stats.Scraped)
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(cfg.ShortConcurrency))

	result = env.orch.ScrapeAll(context.Background(), RunOptions{ScrapeOnly: true, MaxURLs: 3})
	assert.Equal(t, 3, result.Stats.Candidates)
}

func TestFilterURLs(t *testing.T) {
	o := NewOrchestrator(DefaultOrchestratorConfig(), Dependencies{}, logger.Discard())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.Clock = func() time.Time { return now }

	fresh := "https://www.aws.at/foerderungen/aws-preseed-2024"
	stale := "https://www.aws.at/foerderungen/aws-garantie-2023"
	urls := []string{
		fresh,
		stale,
		"https://www.aws.at/foerderungen/wohnbau-foerderung-2024",
		"https://www.aws.at/news/foerderung-startet-2024",
		"https://www.aws.at/foerderungen?field_type=1",
		"https://www.aws.at/fileadmin/foerderung/richtlinie.pdf",
		"https://www.aws.at/node/202361",
		"https://www.aws.at/foerderungen/",
	}
	lastScraped := map[string]time.Time{
		fresh: now.Add(-time.Hour),
		stale: now.Add(-48 * time.Hour),
	}

	assert.Equal(t, []string{stale}, o.filterURLs(urls, lastScraped, institution.LearnedKeywords{}))

	learned := institution.LearnedKeywords{
		AllowFragments: []string{"/node/"},
		DenyFragments:  []string{"Garantie"},
	}
	assert.Equal(t, []string{"https://www.aws.at/node/202361"}, o.filterURLs(urls, lastScraped, learned))
}

func TestPrioritizeURLs(t *testing.T) {
	urls := []string{
		"https://a.at/foerderungen/x/detail-page-abc",
		"https://a.at/foerderungen/kredit-neu",
		"https://a.at/foerderungen/programm-1",
		"https://a.at/x/other",
	}
	existing := map[string]struct{}{"https://a.at/foerderungen/kredit-neu": {}}

	got := PrioritizeURLs(urls, existing)
	assert.Equal(t, []string{
		"https://a.at/foerderungen/programm-1",
		"https://a.at/foerderungen/x/detail-page-abc",
		"https://a.at/x/other",
		"https://a.at/foerderungen/kredit-neu",
	}, got)
	assert.Equal(t, "https://a.at/foerderungen/x/detail-page-abc", urls[0])
}

func TestDiscoverURLsOnly(t *testing.T) {
	env := newTestEnv(t, NewMockFetcher(sitePages()), DefaultOrchestratorConfig())
	inst := testInstitution(t)

	summary := env.orch.DiscoverURLsOnly(context.Background(), inst, time.Minute, "")
	assert.Equal(t, 3, summary.NewURLs)
	assert.Equal(t, 3, summary.TotalURLs)

	summary = env.orch.DiscoverURLsOnly(context.Background(), inst, time.Minute, ModeIncremental)
	assert.Equal(t, 0, summary.NewURLs)
	assert.Equal(t, 3, summary.TotalURLs)
	assert.Empty(t, env.programs.Load())
}

func TestDiscoverURLsOnlyFailureIsZero(t *testing.T) {
	fetcher := NewMockFetcher(sitePages())
	fetcher.fatal[seedURL] = true
	env := newTestEnv(t, fetcher, DefaultOrchestratorConfig())

	summary := env.orch.DiscoverURLsOnly(context.Background(), testInstitution(t), time.Minute, ModeIncremental)
	assert.Equal(t, 0, summary.NewURLs)
	assert.Equal(t, 0, summary.TotalURLs)
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t, NewMockFetcher(sitePages()), DefaultOrchestratorConfig())
	ctx := context.Background()

	for i, day := range []string{"20260101T000000Z", "20260102T000000Z", "20260103T000000Z"} {
		_, err := env.archive.Upload(ctx, "scraped-programs-"+day+".json", []byte(fmt.Sprint(i)))
		require.NoError(t, err)
	}

	require.NoError(t, env.orch.Cleanup(ctx, 1))
	objects, err := env.archive.List(ctx, storage.PathSnapshots+"/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, storage.SnapshotKey("scraped-programs-20260103T000000Z.json"), objects[0].Key)
}
