// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Discovery modes.
const (
	ModeIncremental = "incremental"
	ModeDeep        = "deep"
)

// Config holds all configuration for the application.
type Config struct {
	Run      RunOptions
	Paths    PathsConfig
	Crawler  CrawlerConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Storage  StorageConfig
	Schedule ScheduleConfig
	Worker   WorkerConfig
	Log      LogConfig
}

// RunOptions controls a single scrape run.
type RunOptions struct {
	TargetInstitutions []string
	ScrapeOnly         bool
	ShortCycle         bool
	CycleOnly          bool
	MaxURLs            int
	DiscoveryMode      string
}

// PathsConfig holds the on-disk locations of persisted state.
type PathsConfig struct {
	DataDir             string
	InstitutionsFile    string
	LearnedKeywordsFile string
}

// CrawlerConfig holds crawler configuration.
type CrawlerConfig struct {
	UserAgent      string
	RateLimit      int
	HTTPTimeout    time.Duration
	BrowserTimeout time.Duration
	UseBrowser     bool
	MaxDepth       int
	MaxDiscovered  int
}

// RedisConfig holds Redis configuration for the page cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL  string
	Name string
}

// StorageConfig holds object storage configuration for snapshot archiving.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// ScheduleConfig holds cron specs for the worker.
type ScheduleConfig struct {
	Quick             string
	Full              string
	Cleanup           string
	QuickBudget       time.Duration
	SnapshotRetention int
}

// WorkerConfig holds settings for the long-running worker process.
type WorkerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// Load loads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")

	cfg := &Config{
		Run: RunOptions{
			TargetInstitutions: getEnvAsList("TARGET_INSTITUTIONS"),
			ScrapeOnly:         getEnvAsFlag("SCRAPE_ONLY"),
			ShortCycle:         getEnvAsFlag("SHORT_CYCLE"),
			CycleOnly:          getEnvAsFlag("CYCLE_ONLY"),
			MaxURLs:            getEnvAsInt("MAX_URLS", 0),
			DiscoveryMode:      getEnv("DISCOVERY_MODE", ModeIncremental),
		},
		Paths: PathsConfig{
			DataDir:             dataDir,
			InstitutionsFile:    getEnv("INSTITUTIONS_FILE", ""),
			LearnedKeywordsFile: getEnv("LEARNED_KEYWORDS_FILE", filepath.Join(dataDir, "learned-keywords.json")),
		},
		Crawler: CrawlerConfig{
			UserAgent:      getEnv("CRAWLER_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			RateLimit:      getEnvAsInt("CRAWLER_RATE_LIMIT", 5),
			HTTPTimeout:    getEnvAsDuration("CRAWLER_HTTP_TIMEOUT", 5*time.Second),
			BrowserTimeout: getEnvAsDuration("CRAWLER_BROWSER_TIMEOUT", 10*time.Second),
			UseBrowser:     getEnvAsBool("CRAWLER_USE_BROWSER", true),
			MaxDepth:       getEnvAsInt("CRAWLER_MAX_DEPTH", 4),
			MaxDiscovered:  getEnvAsInt("CRAWLER_MAX_DISCOVERED", 500),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("PAGE_CACHE_TTL", 12*time.Hour),
		},
		NATS: NATSConfig{
			URL:  getEnv("NATS_URL", ""),
			Name: getEnv("NATS_CLIENT_NAME", "funding-crawler"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", ""),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", ""),
			BucketName:      getEnv("STORAGE_BUCKET", "funding-crawler"),
			UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
			Region:          getEnv("STORAGE_REGION", "eu-central-1"),
		},
		Schedule: ScheduleConfig{
			Quick:             getEnv("SCHEDULE_QUICK", "0 */6 * * *"),
			Full:              getEnv("SCHEDULE_FULL", "0 2 * * *"),
			Cleanup:           getEnv("SCHEDULE_CLEANUP", "0 3 * * *"),
			QuickBudget:       getEnvAsDuration("SCHEDULE_QUICK_BUDGET", 30*time.Second),
			SnapshotRetention: getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 7),
		},
		Worker: WorkerConfig{
			Port:            getEnvAsInt("WORKER_PORT", 8081),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Run.MaxURLs < 0 {
		errs = append(errs, fmt.Errorf("MAX_URLS must not be negative, got %d", c.Run.MaxURLs))
	}
	if c.Run.DiscoveryMode != ModeIncremental && c.Run.DiscoveryMode != ModeDeep {
		errs = append(errs, fmt.Errorf("DISCOVERY_MODE must be %q or %q, got %q", ModeIncremental, ModeDeep, c.Run.DiscoveryMode))
	}
	if c.Crawler.MaxDepth < 0 || c.Crawler.MaxDiscovered <= 0 {
		errs = append(errs, errors.New("crawler depth must be >= 0 and discovered cap > 0"))
	}
	if c.Crawler.RateLimit <= 0 {
		errs = append(errs, errors.New("CRAWLER_RATE_LIMIT must be positive"))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for name, spec := range map[string]string{
		"SCHEDULE_QUICK":   c.Schedule.Quick,
		"SCHEDULE_FULL":    c.Schedule.Full,
		"SCHEDULE_CLEANUP": c.Schedule.Cleanup,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, spec, err))
		}
	}

	return errors.Join(errs...)
}

// RedisEnabled reports whether a page cache should be wired.
func (c *Config) RedisEnabled() bool { return c.Redis.Addr != "" }

// NATSEnabled reports whether crawl events should be published.
func (c *Config) NATSEnabled() bool { return c.NATS.URL != "" }

// StorageEnabled reports whether snapshots should be archived to object storage.
func (c *Config) StorageEnabled() bool { return c.Storage.Endpoint != "" }

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsFlag reads the "1"-style switches used by the scheduling scripts.
func getEnvAsFlag(key string) bool {
	return strings.TrimSpace(os.Getenv(key)) == "1"
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
