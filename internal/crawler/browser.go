package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// BrowserConfig holds configuration for the headless browser fallback.
type BrowserConfig struct {
	UserAgent string
	Timeout   time.Duration
	Headless  bool
	RateLimit int
}

// DefaultBrowserConfig returns default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		UserAgent: DefaultHTTPFetcherConfig().UserAgent,
		Timeout:   10 * time.Second,
		Headless:  true,
		RateLimit: 2,
	}
}

// blockedResources are never loaded by the browser.
var blockedResources = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeFont,
	network.ResourceTypeStylesheet,
	network.ResourceTypeMedia,
}

// BrowserFetcher renders pages in one shared headless Chrome, opening a tab
// per fetch. The browser starts on first use and lives until Close.
type BrowserFetcher struct {
	config   BrowserConfig
	limiters *hostLimiters
	log      *logger.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	startErr      error
}

// NewBrowserFetcher creates a browser fetcher. No process is started yet.
func NewBrowserFetcher(cfg BrowserConfig, log *logger.Logger) *BrowserFetcher {
	if log == nil {
		log = logger.Default()
	}
	return &BrowserFetcher{
		config:   cfg,
		limiters: newHostLimiters(cfg.RateLimit),
		log:      log.WithComponent("browser-fetcher"),
	}
}

func (b *BrowserFetcher) start() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		return b.browserCtx, nil
	}
	if b.startErr != nil {
		return nil, b.startErr
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.UserAgent(b.config.UserAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// An empty Run launches the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		b.startErr = fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
		b.log.WithError(err).Error("failed to start headless browser")
		return nil, b.startErr
	}

	b.browserCtx = browserCtx
	b.cancelAlloc = cancelAlloc
	b.cancelBrowser = cancelBrowser
	b.log.Info("headless browser started")
	return browserCtx, nil
}

// Fetch renders target in a new tab. A browser that cannot start is fatal;
// anything else is a skip.
func (b *BrowserFetcher) Fetch(ctx context.Context, target string) Result {
	browserCtx, err := b.start()
	if err != nil {
		return fatal(target, err)
	}
	if err := b.limiters.wait(ctx, target); err != nil {
		return skipped(target, "rate limiter", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.config.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if paused, ok := ev.(*fetch.EventRequestPaused); ok {
			go func() {
				_ = chromedp.Run(tabCtx, fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient))
			}()
		}
	})

	patterns := make([]*fetch.RequestPattern, 0, len(blockedResources))
	for _, rt := range blockedResources {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", ResourceType: rt})
	}

	var html string
	err = chromedp.Run(tabCtx,
		fetch.Enable().WithPatterns(patterns),
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return skipped(target, "browser fetch failed", fmt.Errorf("browser fetch failed: %w", err))
	}

	b.log.Debug("browser fetch successful", "url", target, "content_length", len(html))
	return fetched(target, html, SourceBrowser, 200)
}

// Close shuts the browser down. The next Fetch starts a fresh one. It is
// safe to call more than once.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelBrowser != nil {
		b.cancelBrowser()
		b.cancelAlloc()
		b.log.Info("headless browser closed")
	}
	b.browserCtx = nil
	b.cancelBrowser = nil
	b.cancelAlloc = nil
	b.startErr = nil
	return nil
}
