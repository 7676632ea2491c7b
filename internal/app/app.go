// Package app wires configuration into a ready-to-run crawler. Both the CLI and
// the worker build their components through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/config"
	"github.com/alqutdigital/funding-crawler/internal/crawler"
	"github.com/alqutdigital/funding-crawler/internal/extractor"
	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/internal/realtime"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
)

// Component is a named resource released on shutdown.
type Component struct {
	Name  string
	Close func(ctx context.Context) error
}

// App holds every wired component. Optional backends that are not configured
// or not reachable are nil, and the crawler runs without them.
type App struct {
	Config   *config.Config
	Registry institution.Registry
	Learned  map[string]institution.LearnedKeywords

	Programs *storage.ProgramStore
	States   *storage.DiscoveryStore
	Lock     *storage.Lock
	Cache    *storage.RedisPageCache
	Archive  *storage.MinIOArchive
	NATS     *realtime.NATSClient

	HTTP         *crawler.HTTPFetcher
	Browser      *crawler.BrowserFetcher
	Fetcher      *crawler.PageFetcher
	Discovery    *crawler.DiscoveryEngine
	Extractor    *extractor.Extractor
	Validator    *crawler.PreValidator
	Orchestrator *crawler.Orchestrator

	components []Component
	log        *logger.Logger
}

// New builds the crawler from cfg. Only local failures (registry, data
// directory) are fatal. Redis, MinIO and NATS degrade to disabled with a warning.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Default()
	}
	a := &App{Config: cfg, log: log.WithComponent("app")}

	registry, err := institution.Load(cfg.Paths.InstitutionsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load institutions: %w", err)
	}
	a.Registry = registry

	learned, err := institution.LoadLearnedKeywords(cfg.Paths.LearnedKeywordsFile)
	if err != nil {
		a.log.WithError(err).Warn("ignoring learned keywords")
	}
	a.Learned = learned

	a.Programs = storage.NewProgramStore(cfg.Paths.DataDir, log)
	a.States = storage.NewDiscoveryStore(cfg.Paths.DataDir, log)
	a.Lock, err = storage.NewLock(cfg.Paths.DataDir, log)
	if err != nil {
		return nil, err
	}

	var cache storage.PageCache = storage.NopPageCache{}
	if c := a.connectRedis(ctx); c != nil {
		a.Cache = c
		cache = c
	}

	var archive storage.Archive
	if ar := a.connectArchive(ctx); ar != nil {
		a.Archive = ar
		archive = ar
	}

	var events realtime.Publisher = realtime.NopPublisher{}
	if nc := a.connectNATS(ctx); nc != nil {
		a.NATS = nc
		events = nc
	}

	httpCfg := crawler.DefaultHTTPFetcherConfig()
	httpCfg.UserAgent = cfg.Crawler.UserAgent
	httpCfg.Timeout = cfg.Crawler.HTTPTimeout
	httpCfg.RateLimit = cfg.Crawler.RateLimit
	a.HTTP = crawler.NewHTTPFetcher(httpCfg, log)

	var browser crawler.Fetcher
	if cfg.Crawler.UseBrowser {
		browserCfg := crawler.DefaultBrowserConfig()
		browserCfg.UserAgent = cfg.Crawler.UserAgent
		browserCfg.Timeout = cfg.Crawler.BrowserTimeout
		a.Browser = crawler.NewBrowserFetcher(browserCfg, log)
		browser = a.Browser
		a.register("browser", func(context.Context) error { return a.Browser.Close() })
	}
	a.Fetcher = crawler.NewPageFetcher(a.HTTP, browser, cache, log)

	discoveryCfg := crawler.DefaultDiscoveryConfig()
	discoveryCfg.MaxDepth = cfg.Crawler.MaxDepth
	discoveryCfg.MaxDiscovered = cfg.Crawler.MaxDiscovered
	discoveryCfg.PageTimeout = cfg.Crawler.BrowserTimeout
	a.Discovery = crawler.NewDiscoveryEngine(discoveryCfg, a.Fetcher, crawler.NewLinkExtractor(institution.ExclusionKeywords), a.States, log)

	a.Extractor = extractor.New(extractor.DefaultConfig(), log)
	a.Validator = crawler.NewPreValidator(crawler.DefaultPreValidatorConfig(), a.HTTP, log)

	orchCfg := crawler.DefaultOrchestratorConfig()
	orchCfg.QuickBudget = cfg.Schedule.QuickBudget
	deps := crawler.Dependencies{
		Registry:  a.Registry,
		Learned:   a.Learned,
		Discovery: a.Discovery,
		Fetcher:   a.Fetcher,
		Extractor: a.Extractor,
		Programs:  a.Programs,
		States:    a.States,
		Archive:   archive,
		Lock:      a.Lock,
		Events:    events,
	}
	if a.Browser != nil {
		deps.Browser = a.Browser
	}
	a.Orchestrator = crawler.NewOrchestrator(orchCfg, deps, log)

	a.log.Info("crawler wired",
		"institutions", len(a.Registry),
		"data_dir", cfg.Paths.DataDir,
		"browser", a.Browser != nil,
		"page_cache", a.Cache != nil,
		"archive", a.Archive != nil,
		"events", a.NATS != nil,
	)
	return a, nil
}

func (a *App) connectRedis(ctx context.Context) *storage.RedisPageCache {
	if !a.Config.RedisEnabled() {
		return nil
	}
	redisCfg := storage.DefaultRedisConfig()
	redisCfg.Addr = a.Config.Redis.Addr
	redisCfg.Password = a.Config.Redis.Password
	redisCfg.DB = a.Config.Redis.DB
	client, err := storage.DialRedis(ctx, redisCfg)
	if err != nil {
		a.log.WithError(err).Warn("Redis unavailable, page cache disabled", "addr", a.Config.Redis.Addr)
		return nil
	}
	a.register("redis", func(context.Context) error { return client.Close() })

	cacheCfg := storage.DefaultPageCacheConfig()
	if a.Config.Redis.TTL > 0 {
		cacheCfg.TTL = a.Config.Redis.TTL
	}
	return storage.NewRedisPageCache(client, cacheCfg, a.log)
}

func (a *App) connectArchive(ctx context.Context) *storage.MinIOArchive {
	if !a.Config.StorageEnabled() {
		return nil
	}
	s := a.Config.Storage
	archive, err := storage.NewMinIOArchive(storage.MinIOConfig{
		Endpoint:        s.Endpoint,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		BucketName:      s.BucketName,
		UseSSL:          s.UseSSL,
		Region:          s.Region,
	})
	if err != nil {
		a.log.WithError(err).Warn("snapshot archive disabled", "endpoint", s.Endpoint)
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := archive.InitBucket(initCtx); err != nil {
		a.log.WithError(err).Warn("snapshot archive disabled", "endpoint", s.Endpoint, "bucket", s.BucketName)
		return nil
	}
	return archive
}

func (a *App) connectNATS(ctx context.Context) *realtime.NATSClient {
	if !a.Config.NATSEnabled() {
		return nil
	}
	natsCfg := realtime.DefaultNATSConfig()
	natsCfg.URL = a.Config.NATS.URL
	natsCfg.Name = a.Config.NATS.Name

	client, err := realtime.NewNATSClient(ctx, natsCfg, a.log)
	if err != nil {
		a.log.WithError(err).Warn("NATS unavailable, crawl events disabled", "url", natsCfg.URL)
		return nil
	}
	a.register("nats", func(context.Context) error { return client.Close() })
	return client
}

func (a *App) register(name string, fn func(ctx context.Context) error) {
	a.components = append(a.components, Component{Name: name, Close: fn})
}

// Components returns the closable resources in the order they were opened.
func (a *App) Components() []Component {
	return append([]Component(nil), a.components...)
}

// Close releases every component, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.components) - 1; i >= 0; i-- {
		c := a.components[i]
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", c.Name, err))
		}
	}
	a.components = nil
	return errors.Join(errs...)
}
