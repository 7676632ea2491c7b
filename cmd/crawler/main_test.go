package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/config"
	"github.com/alqutdigital/funding-crawler/internal/crawler"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOptionsFlagsOverrideEnvironment(t *testing.T) {
	cfg := &config.Config{Run: config.RunOptions{
		TargetInstitutions: []string{"ffg"},
		CycleOnly:          true,
		MaxURLs:            40,
		DiscoveryMode:      config.ModeDeep,
	}}

	tests := []struct {
		name string
		args []string
		want crawler.RunOptions
	}{
		{
			name: "environment only",
			want: crawler.RunOptions{Targets: []string{"ffg"}, Mode: crawler.ModeDeep, CycleOnly: true, MaxURLs: 40},
		},
		{
			name: "flags win",
			args: []string{"--institutions=aws,sfg", "--cycle=false", "--short", "--max-urls=5", "--deep=false"},
			want: crawler.RunOptions{Targets: []string{"aws", "sfg"}, Mode: crawler.ModeIncremental, ShortCycle: true, MaxURLs: 5},
		},
		{
			name: "scrape only",
			args: []string{"--scrape-only"},
			want: crawler.RunOptions{Targets: []string{"ffg"}, Mode: crawler.ModeDeep, CycleOnly: true, ScrapeOnly: true, MaxURLs: 40},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &ScrapeOptions{}
			cmd := newScrapeCmd(opts)
			require.NoError(t, cmd.ParseFlags(tt.args))

			assert.Equal(t, tt.want, runOptions(cfg, cmd, opts))
		})
	}
}

func TestBuildStatus(t *testing.T) {
	dir := t.TempDir()
	log := logger.Discard()
	programs := storage.NewProgramStore(dir, log)
	states := storage.NewDiscoveryStore(dir, log)

	older := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)
	_, err := programs.Save([]storage.ScrapedProgram{
		{SourceURL: "https://www.ffg.at/a", Institution: "FFG", ScrapedAt: older},
		{SourceURL: "https://www.ffg.at/b", Institution: "FFG", ScrapedAt: newer},
	})
	require.NoError(t, err)

	state := storage.NewDiscoveryState()
	state.KnownURLs = []string{"https://www.aws.at/x"}
	state.UnscrapedURLs = []string{"https://www.aws.at/x"}
	require.NoError(t, states.Save("AWS", state))

	report, err := buildStatus(programs, states)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Programs)
	require.Len(t, report.Institutions, 2)
	assert.Equal(t, "AWS", report.Institutions[0].Name)
	assert.Equal(t, 1, report.Institutions[0].Unscraped)
	assert.Nil(t, report.Institutions[0].LastScraped)
	assert.Equal(t, "FFG", report.Institutions[1].Name)
	assert.Equal(t, 2, report.Institutions[1].Programs)
	require.NotNil(t, report.Institutions[1].LastScraped)
	assert.True(t, newer.Equal(*report.Institutions[1].LastScraped))

	var out bytes.Buffer
	printStatus(&out, report)
	assert.Contains(t, out.String(), "Programs stored: 2")
	assert.Contains(t, out.String(), "never")
}

func TestPrintRunStats(t *testing.T) {
	var out bytes.Buffer
	printRunStats(&out, crawler.RunStats{RunID: "r1", Mode: "incremental", Scraped: 3, Error: "data directory is locked by another crawler process"})

	assert.Contains(t, out.String(), "Scraped:       3")
	assert.Contains(t, out.String(), "Error:         data directory is locked")
}
