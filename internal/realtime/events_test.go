package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProgramScrapedEvent(t *testing.T) {
	scrapedAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))
	e := NewProgramScrapedEvent("program_1", "https://www.aws.at/node/1", "AWS", "aws Preseed", "2026-06-30", scrapedAt)

	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, time.UTC, e.ScrapedAt.Location())
	assert.True(t, scrapedAt.Equal(e.ScrapedAt))
	require.NoError(t, e.Validate())

	other := NewProgramScrapedEvent("program_1", "https://www.aws.at/node/1", "AWS", "aws Preseed", "", scrapedAt)
	assert.NotEqual(t, e.EventID, other.EventID)
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   interface{ Validate() error }
		wantErr string
	}{
		{"program missing url", &ProgramScrapedEvent{EventID: "x", Institution: "AWS"}, "source_url is required"},
		{"program missing institution", &ProgramScrapedEvent{EventID: "x", SourceURL: "u"}, "institution is required"},
		{"program missing id", &ProgramScrapedEvent{SourceURL: "u", Institution: "AWS"}, "event_id is required"},
		{"discovery missing institution", &DiscoveryCompletedEvent{EventID: "x"}, "institution is required"},
		{"discovery ok", &DiscoveryCompletedEvent{EventID: "x", Institution: "FFG"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestNewDiscoveryCompletedEvent(t *testing.T) {
	e := NewDiscoveryCompletedEvent("FFG", "deep", 120, 14, 3, 2500*time.Millisecond, true)

	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, int64(2500), e.ElapsedMs)
	assert.Equal(t, 14, e.Unscraped)
	assert.True(t, e.BudgetExceeded)
	assert.NoError(t, e.Validate())
}

func TestNewRunCompletedEvent(t *testing.T) {
	e := NewRunCompletedEvent("run-1", "incremental")
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, "run-1", e.RunID)
	assert.False(t, e.CompletedAt.IsZero())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	ctx := context.Background()

	assert.NoError(t, p.PublishProgramScraped(ctx, ProgramScrapedEvent{}))
	assert.NoError(t, p.PublishDiscoveryCompleted(ctx, DiscoveryCompletedEvent{}))
	assert.NoError(t, p.PublishRunCompleted(ctx, RunCompletedEvent{}))
	assert.NoError(t, p.Close())
}
