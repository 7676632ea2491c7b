package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "testdata-dir")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "testdata-dir", cfg.Paths.DataDir)
	assert.Equal(t, "testdata-dir/learned-keywords.json", cfg.Paths.LearnedKeywordsFile)
	assert.Equal(t, ModeIncremental, cfg.Run.DiscoveryMode)
	assert.Equal(t, 5*time.Second, cfg.Crawler.HTTPTimeout)
	assert.Equal(t, 10*time.Second, cfg.Crawler.BrowserTimeout)
	assert.Equal(t, 4, cfg.Crawler.MaxDepth)
	assert.Equal(t, 500, cfg.Crawler.MaxDiscovered)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.NATSEnabled())
	assert.False(t, cfg.StorageEnabled())
}

func TestLoadRunSwitches(t *testing.T) {
	t.Setenv("TARGET_INSTITUTIONS", " FFG, institution_aws ,,")
	t.Setenv("SCRAPE_ONLY", "1")
	t.Setenv("SHORT_CYCLE", "1")
	t.Setenv("MAX_URLS", "42")
	t.Setenv("CYCLE_ONLY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"ffg", "institution_aws"}, cfg.Run.TargetInstitutions)
	assert.True(t, cfg.Run.ScrapeOnly)
	assert.True(t, cfg.Run.ShortCycle)
	assert.Equal(t, 42, cfg.Run.MaxURLs)
	assert.False(t, cfg.Run.CycleOnly, "only the literal 1 switches a flag on")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"negative max urls", map[string]string{"MAX_URLS": "-1"}, "MAX_URLS"},
		{"unknown mode", map[string]string{"DISCOVERY_MODE": "full"}, "DISCOVERY_MODE"},
		{"bad cron", map[string]string{"SCHEDULE_FULL": "every day"}, "SCHEDULE_FULL"},
		{"zero rate", map[string]string{"CRAWLER_RATE_LIMIT": "0"}, "CRAWLER_RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
