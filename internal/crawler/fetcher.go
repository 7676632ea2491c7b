package crawler

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 8 << 20

// Fetcher loads the HTML of one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) Result
}

// HTTPFetcherConfig holds configuration for the direct HTTP fetcher.
type HTTPFetcherConfig struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	RateLimit      int // requests per second per host
	RetryMax       int
}

// DefaultHTTPFetcherConfig returns default HTTP fetcher configuration.
func DefaultHTTPFetcherConfig() HTTPFetcherConfig {
	return HTTPFetcherConfig{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage: "de-DE,de;q=0.9,en;q=0.8",
		Timeout:        5 * time.Second,
		RateLimit:      5,
		RetryMax:       1,
	}
}

// HTTPFetcher is the fast path: a plain GET with browser-like headers.
type HTTPFetcher struct {
	config   HTTPFetcherConfig
	client   *retryablehttp.Client
	limiters *hostLimiters
	log      *logger.Logger
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg HTTPFetcherConfig, log *logger.Logger) *HTTPFetcher {
	if log == nil {
		log = logger.Default()
	}

	client := retryablehttp.NewClient()
	client.Logger = stdlog.New(io.Discard, "", 0)
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("too many redirects")
		}
		return nil
	}
	// Non-2xx responses are returned to the caller rather than turned into errors.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPFetcher{
		config:   cfg,
		client:   client,
		limiters: newHostLimiters(cfg.RateLimit),
		log:      log.WithComponent("http-fetcher"),
	}
}

// Fetch performs a GET. Any failure is a skip.
func (f *HTTPFetcher) Fetch(ctx context.Context, target string) Result {
	resp, err := f.get(ctx, target)
	if err != nil {
		return skipped(target, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return skipped(target, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return skipped(target, "read failed", fmt.Errorf("failed to read response body: %w", err))
	}
	return fetched(target, string(body), SourceHTTP, resp.StatusCode)
}

// get sends the request and returns the raw response, whatever its status.
func (f *HTTPFetcher) get(ctx context.Context, target string) (*http.Response, error) {
	if err := f.limiters.wait(ctx, target); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setBrowserHeaders(req.Header, f.config.UserAgent, f.config.AcceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func setBrowserHeaders(h http.Header, userAgent, acceptLanguage string) {
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
}

// hostLimiters hands out one token bucket per host.
type hostLimiters struct {
	mu     sync.Mutex
	rps    int
	byHost map[string]*rate.Limiter
}

func newHostLimiters(rps int) *hostLimiters {
	return &hostLimiters{rps: rps, byHost: make(map[string]*rate.Limiter)}
}

func (h *hostLimiters) wait(ctx context.Context, target string) error {
	if h == nil || h.rps <= 0 {
		return nil
	}
	host := target
	if u, err := url.Parse(target); err == nil {
		host = strings.ToLower(u.Hostname())
	}

	h.mu.Lock()
	lim, ok := h.byHost[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.rps), h.rps)
		h.byHost[host] = lim
	}
	h.mu.Unlock()

	return lim.Wait(ctx)
}

// PageFetcher tries the page cache, then the HTTP fast path, then the
// browser. Browser may be nil.
type PageFetcher struct {
	HTTP    Fetcher
	Browser Fetcher
	Cache   storage.PageCache
	log     *logger.Logger
}

// NewPageFetcher creates a composite fetcher. A nil cache disables caching.
func NewPageFetcher(httpFetcher, browser Fetcher, cache storage.PageCache, log *logger.Logger) *PageFetcher {
	if log == nil {
		log = logger.Default()
	}
	if cache == nil {
		cache = storage.NopPageCache{}
	}
	return &PageFetcher{
		HTTP:    httpFetcher,
		Browser: browser,
		Cache:   cache,
		log:     log.WithComponent("page-fetcher"),
	}
}

// Fetch returns the page HTML from the first source that succeeds.
func (f *PageFetcher) Fetch(ctx context.Context, target string) Result {
	if html, ok := f.Cache.Get(ctx, target); ok {
		return fetched(target, html, SourceCache, http.StatusOK)
	}

	res := f.HTTP.Fetch(ctx, target)
	if res.OK() {
		f.Cache.Set(ctx, target, res.HTML)
		return res
	}
	if f.Browser == nil || ctx.Err() != nil {
		return res
	}

	f.log.Debug("http fetch failed, falling back to browser", "url", target, "reason", res.Reason)
	res = f.Browser.Fetch(ctx, target)
	if res.OK() {
		f.Cache.Set(ctx, target, res.HTML)
	}
	return res
}
