package crawler

import (
	"context"
	"errors"
	"io"
	stdlog "log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHTTPFetcher() *HTTPFetcher {
	cfg := DefaultHTTPFetcherConfig()
	cfg.RetryMax = 0
	cfg.RateLimit = 0
	cfg.Timeout = 2 * time.Second
	return NewHTTPFetcher(cfg, logger.Discard())
}

func TestHTTPFetcher(t *testing.T) {
	var gotUA, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			gotUA = r.Header.Get("User-Agent")
			gotLang = r.Header.Get("Accept-Language")
			w.Write([]byte("<html><body>ok</body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := testHTTPFetcher()

	res := f.Fetch(context.Background(), server.URL+"/ok")
	require.True(t, res.OK())
	assert.Equal(t, SourceHTTP, res.Source)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.HTML, "ok")
	assert.Contains(t, gotUA, "Mozilla/5.0")
	assert.Equal(t, "de-DE,de;q=0.9,en;q=0.8", gotLang)

	res = f.Fetch(context.Background(), server.URL+"/missing")
	assert.Equal(t, OutcomeSkip, res.Outcome)
	assert.Equal(t, "status 404", res.Reason)

	res = f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	assert.Equal(t, OutcomeSkip, res.Outcome)
	assert.Error(t, res.Err)
}

func TestHTTPFetcherSilencesRetryLogs(t *testing.T) {
	f := NewHTTPFetcher(DefaultHTTPFetcherConfig(), nil)

	l, ok := f.client.Logger.(*stdlog.Logger)
	require.True(t, ok)
	assert.Equal(t, io.Discard, l.Writer())
	assert.Equal(t, 1, f.client.RetryMax)
}

type stubFetcher struct {
	res   Result
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, target string) Result {
	s.calls++
	r := s.res
	r.URL = target
	return r
}

type mapCache struct {
	mu    sync.Mutex
	pages map[string]string
}

func (c *mapCache) Get(_ context.Context, url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	html, ok := c.pages[url]
	return html, ok
}

func (c *mapCache) Set(_ context.Context, url, html string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[url] = html
}

func TestPageFetcherFallsBackToBrowser(t *testing.T) {
	httpStub := &stubFetcher{res: skipped("", "status 403", nil)}
	browserStub := &stubFetcher{res: fetched("", "<html>rendered</html>", SourceBrowser, http.StatusOK)}
	cache := &mapCache{pages: map[string]string{}}

	f := NewPageFetcher(httpStub, browserStub, cache, logger.Discard())

	res := f.Fetch(context.Background(), preseedURL)
	require.True(t, res.OK())
	assert.Equal(t, SourceBrowser, res.Source)
	assert.Equal(t, "<html>rendered</html>", cache.pages[preseedURL])

	res = f.Fetch(context.Background(), preseedURL)
	require.True(t, res.OK())
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, 1, httpStub.calls)
	assert.Equal(t, 1, browserStub.calls)
}

func TestPageFetcherPropagatesFatal(t *testing.T) {
	httpStub := &stubFetcher{res: skipped("", "request failed", errors.New("timeout"))}
	browserStub := &stubFetcher{res: fatal("", ErrBrowserUnavailable)}

	res := NewPageFetcher(httpStub, browserStub, nil, logger.Discard()).Fetch(context.Background(), preseedURL)
	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrBrowserUnavailable)
}

func TestPageFetcherWithoutBrowser(t *testing.T) {
	httpStub := &stubFetcher{res: skipped("", "status 500", nil)}

	res := NewPageFetcher(httpStub, nil, nil, logger.Discard()).Fetch(context.Background(), preseedURL)
	assert.Equal(t, OutcomeSkip, res.Outcome)
	assert.Equal(t, "status 500", res.Reason)
}
