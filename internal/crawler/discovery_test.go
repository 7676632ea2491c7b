package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockFetcher serves pages from a map. Unknown URLs are skipped.
type MockFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fatal   map[string]bool
	fetched []string
}

func NewMockFetcher(pages map[string]string) *MockFetcher {
	return &MockFetcher{pages: pages, fatal: make(map[string]bool)}
}

func (m *MockFetcher) Fetch(ctx context.Context, target string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, target)

	if m.fatal[target] {
		return fatal(target, ErrBrowserUnavailable)
	}
	html, ok := m.pages[target]
	if !ok {
		return skipped(target, "status 404", nil)
	}
	return fetched(target, html, SourceHTTP, http.StatusOK)
}

func (m *MockFetcher) Fetched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetched...)
}

const (
	seedURL     = "https://www.aws.at/foerderungen/"
	preseedURL  = "https://www.aws.at/foerderungen/aws-preseed-2024"
	garantieURL = "https://www.aws.at/node/202361"
	hubURL      = "https://www.aws.at/foerderungen/innovation/alle-programme"
	digitalURL  = "https://www.aws.at/foerderungen/innovation/digitalisierungsfoerderung-kmu"
)

// sitePages is a small site: the seed lists two programs and a hub that lists
// a third.
func sitePages() map[string]string {
	return map[string]string{
		seedURL: `<html><body><ul>
  <li><a href="/foerderungen/aws-preseed-2024">aws Preseed</a></li>
  <li><a href="/node/202361">aws Garantie</a></li>
  <li class="teaser"><a href="/foerderungen/innovation/alle-programme">Alle Förderprogramme, Zuschuss bis 50.000 €</a></li>
</ul></body></html>`,
		hubURL: `<html><body><ul>
  <li><a href="/foerderungen/innovation/digitalisierungsfoerderung-kmu">Digitalisierung</a></li>
</ul></body></html>`,
		preseedURL:  programPage("aws Preseed Innovative Solutions"),
		garantieURL: programPage("aws Garantie fuer Unternehmen"),
		digitalURL:  programPage("Digitalisierungsfoerderung fuer KMU"),
	}
}

func programPage(name string) string {
	return `<html><head><title>` + name + `</title></head><body>
<h1>` + name + `</h1>
<p class="program-description">Zuschuss für innovative Unternehmen in Österreich bis 200.000 Euro pro Projekt.</p>
<div class="voraussetzungen">KMU mit Sitz in Österreich</div>
</body></html>`
}

func testInstitution(t *testing.T) institution.Config {
	t.Helper()
	inst, err := institution.DefaultRegistry().Find("institution_aws")
	require.NoError(t, err)
	inst.ProgramURLs = []string{seedURL}
	inst.FeedURLs = nil
	return inst
}

func newTestDiscovery(t *testing.T, f Fetcher) (*DiscoveryEngine, *storage.DiscoveryStore) {
	t.Helper()
	states := storage.NewDiscoveryStore(t.TempDir(), logger.Discard())
	return NewDiscoveryEngine(DefaultDiscoveryConfig(), f, nil, states, logger.Discard()), states
}

func TestDiscoverFindsDetailPages(t *testing.T) {
	inst := testInstitution(t)
	engine, states := newTestDiscovery(t, NewMockFetcher(sitePages()))

	report, err := engine.Discover(context.Background(), inst, DiscoveryOptions{Mode: ModeIncremental})
	require.NoError(t, err)

	state := states.Load(inst.Name)
	assert.ElementsMatch(t, []string{preseedURL, garantieURL, digitalURL}, state.UnscrapedURLs)
	assert.Subset(t, state.KnownURLs, state.UnscrapedURLs)
	assert.Contains(t, state.KnownURLs, hubURL)
	assert.Nil(t, state.LastFullScan)
	require.Len(t, state.ExploredSections, 1)
	assert.Equal(t, seedURL, state.ExploredSections[0].SeedURL)

	assert.Equal(t, 3, report.Unscraped)
	assert.Equal(t, 3, report.NewUnscraped)
	assert.Equal(t, 2, report.Explored)
	assert.False(t, report.BudgetExceeded)

	// A second pass over an unchanged site finds nothing new.
	report, err = engine.Discover(context.Background(), inst, DiscoveryOptions{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Unscraped)
	assert.Equal(t, 0, report.NewUnscraped)
	assert.ElementsMatch(t, []string{preseedURL, garantieURL, digitalURL}, states.Load(inst.Name).UnscrapedURLs)
}

// paginatedSite serves a listing with two programs and a second page that
// lists a third. It records every request URI.
func paginatedSite(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	pages := map[string]string{
		"/foerderungen/": `<html><body><ul>
  <li><a href="/foerderungen/aws-preseed-2024">aws Preseed</a></li>
  <li><a href="/node/202361">aws Garantie</a></li>
</ul>
<nav><a href="/foerderungen/?page=2">2</a></nav></body></html>`,
		"/foerderungen/?page=2": `<html><body><ul>
  <li><a href="/foerderungen/innovation/digitalisierungsfoerderung-kmu">Digitalisierung</a></li>
</ul>
<nav><a href="/foerderungen/">1</a></nav></body></html>`,
	}

	var mu sync.Mutex
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.RequestURI())
		mu.Unlock()

		html, ok := pages[r.URL.RequestURI()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(server.Close)

	return server, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), requested...)
	}
}

func TestDiscoverFollowsPagination(t *testing.T) {
	server, requested := paginatedSite(t)
	log := logger.Discard()
	fetcher := NewPageFetcher(NewHTTPFetcher(DefaultHTTPFetcherConfig(), log), nil, nil, log)
	env := newTestEnv(t, fetcher, DefaultOrchestratorConfig())

	inst := testInstitution(t)
	inst.BaseURL = server.URL
	inst.ProgramURLs = []string{server.URL + "/foerderungen/"}

	listing := server.URL + "/foerderungen/"
	secondPage := server.URL + "/foerderungen/?page=2"
	programs := []string{
		server.URL + "/foerderungen/aws-preseed-2024",
		server.URL + "/node/202361",
		server.URL + "/foerderungen/innovation/digitalisierungsfoerderung-kmu",
	}

	summary := env.orch.DiscoverURLsOnly(context.Background(), inst, time.Minute, ModeIncremental)
	assert.Equal(t, 3, summary.NewURLs)
	assert.Equal(t, 3, summary.TotalURLs)

	state := env.states.Load(inst.Name)
	assert.ElementsMatch(t, programs, state.UnscrapedURLs)
	assert.Subset(t, state.KnownURLs, []string{listing, secondPage})
	assert.Subset(t, state.KnownURLs, programs)
	assert.Equal(t, []string{"/foerderungen/", "/foerderungen/?page=2"}, requested())

	// The same site again yields nothing new.
	summary = env.orch.DiscoverURLsOnly(context.Background(), inst, time.Minute, ModeIncremental)
	assert.Equal(t, 0, summary.NewURLs)
	assert.Equal(t, 3, summary.TotalURLs)
	assert.ElementsMatch(t, programs, env.states.Load(inst.Name).UnscrapedURLs)
	assert.Empty(t, env.programs.Load())
}

func TestDiscoverExcludesExistingPrograms(t *testing.T) {
	inst := testInstitution(t)
	engine, states := newTestDiscovery(t, NewMockFetcher(sitePages()))

	existing := map[string]struct{}{preseedURL: {}}
	_, err := engine.Discover(context.Background(), inst, DiscoveryOptions{Mode: ModeDeep, Existing: existing})
	require.NoError(t, err)

	state := states.Load(inst.Name)
	assert.ElementsMatch(t, []string{garantieURL, digitalURL}, state.UnscrapedURLs)
	assert.Contains(t, state.KnownURLs, preseedURL)
	assert.NotNil(t, state.LastFullScan)
}

func TestDiscoverBrowserUnavailable(t *testing.T) {
	inst := testInstitution(t)
	fetcher := NewMockFetcher(sitePages())
	fetcher.fatal[seedURL] = true
	engine, _ := newTestDiscovery(t, fetcher)

	_, err := engine.Discover(context.Background(), inst, DiscoveryOptions{Mode: ModeIncremental})
	assert.ErrorIs(t, err, ErrBrowserUnavailable)
}

func TestDiscoverBudget(t *testing.T) {
	inst := testInstitution(t)
	fetcher := NewMockFetcher(sitePages())
	engine, _ := newTestDiscovery(t, fetcher)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.Clock = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}

	report, err := engine.Discover(context.Background(), inst, DiscoveryOptions{Mode: ModeIncremental, Budget: 30 * time.Second})
	require.NoError(t, err)
	assert.True(t, report.BudgetExceeded)
	assert.Equal(t, 0, report.Explored)
	assert.Empty(t, fetcher.Fetched())
}

func TestUnscrapedURLs(t *testing.T) {
	known := []string{
		preseedURL,
		garantieURL,
		seedURL,
		"https://www.ffg.at/foerderungen?field_type=1",
		"https://www.aws.at/fileadmin/foerderung/richtlinie.pdf",
	}
	existing := map[string]struct{}{garantieURL: {}}

	assert.Equal(t, []string{preseedURL}, UnscrapedURLs(known, existing))
	assert.NotNil(t, UnscrapedURLs(nil, nil))
}

func TestFeedLinks(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>aws</title>
<item><title>Preseed</title><link>https://www.aws.at/foerderungen/aws-preseed-2024</link></item>
<item><title>Duplicate</title><link>https://www.aws.at/foerderungen/aws-preseed-2024</link></item>
<item><title>Elsewhere</title><link>https://other.example.com/node/1</link></item>
<item><title>Hub</title><link>https://www.aws.at/foerderungen/</link></item>
<item><title>Guid only</title><guid>https://www.aws.at/node/202361</guid></item>
</channel></rss>`
	fetcher := NewMockFetcher(map[string]string{"https://www.aws.at/feed.xml": feed})

	links, err := FeedLinks(context.Background(), fetcher, "https://www.aws.at/feed.xml", "https://aws.at")
	require.NoError(t, err)
	assert.Equal(t, []string{preseedURL, garantieURL}, links)

	_, err = FeedLinks(context.Background(), fetcher, "https://www.aws.at/missing.xml", "https://aws.at")
	assert.Error(t, err)
}
