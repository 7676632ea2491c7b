package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDetailPage(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"node id", "https://www.aws.at/node/202361", true},
		{"program code", "https://www.aws.at/foerderungen/aws-digitalisierung-2024", true},
		{"tender", "https://www.ffg.at/ausschreibung/basisprogramm", true},
		{"long last segment", "https://www.wko.at/foerderungen/innovation/digitalisierungsfoerderung-kmu", true},
		{"program segment", "https://www.example.at/de/program/klima-aktiv", true},
		{"listing hub", "https://www.aws.at/foerderungen/", false},
		{"category suffix", "https://www.aws.at/unternehmen/kredite", false},
		{"all prefix", "https://www.aws.at/foerderungen/innovation/alle-programme", false},
		{"query filter", "https://www.ffg.at/foerderungen?field_type=1", false},
		{"document", "https://www.aws.at/fileadmin/foerderung/richtlinie.pdf", false},
		{"blacklisted", "https://example.com/login", false},
		{"short path", "https://www.aws.at/startup", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDetailPage(tt.url))
		})
	}
}

func TestIsOnTopic(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"identifier without keyword", "https://www.aws.at/node/1234", true},
		{"keyword deep enough", "https://www.aws.at/foerderungen/innovation/uebersicht", true},
		{"keyword too shallow", "https://www.aws.at/foerderungen/", false},
		{"login", "https://example.com/login", false},
		{"whole word start", "https://www.aws.at/start", false},
		{"start inside startup", "https://www.aws.at/foerderungen/startup/seed-finanzierung", true},
		{"filter with keyword", "https://www.ffg.at/foerderungen?field_type=1", true},
		{"filter without keyword", "https://www.ffg.at/liste?filter=1", false},
		{"no host", "/foerderungen/a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOnTopic(tt.url))
		})
	}
}

func TestURLShapeHelpers(t *testing.T) {
	assert.True(t, IsQueryFilter("https://www.ffg.at/foerderungen?field_type=1"))
	assert.True(t, IsQueryFilter("https://www.ffg.at/suche?status%5B0%5D=open"))
	assert.False(t, IsQueryFilter("https://www.ffg.at/foerderungen?page=2"))
	assert.False(t, IsQueryFilter("https://www.ffg.at/foerderungen"))

	assert.True(t, IsDocumentURL("https://www.aws.at/richtlinie.PDF"))
	assert.True(t, IsDocumentURL("https://www.aws.at/download?id=4"))
	assert.True(t, IsDocumentURL("https://www.aws.at/get?file=a"))
	assert.False(t, IsDocumentURL("https://www.aws.at/foerderungen/pdf-tools"))

	assert.True(t, IsListingURL("https://www.ffg.at/programme"))
	assert.True(t, IsListingURL("https://www.ffg.at/suche?filter=open"))
	assert.False(t, IsListingURL("https://www.aws.at/node/1"))
}
