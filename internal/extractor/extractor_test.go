package extractor

import (
	"strings"
	"testing"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/internal/storage"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedPage = `<!DOCTYPE html>
<html><head>
<title>Seed-Finanzierung | aws</title>
<meta name="description" content="Die aws Seed-Finanzierung unterstützt innovative Startups in der Gründungsphase.">
<script type="application/ld+json">{"@type":"GovernmentService","cofinancing_pct":25}</script>
</head><body>
<main>
<h1 class="program-title">aws Seed-Finanzierung</h1>
<p>Die Förderung richtet sich an innovative Startups mit Sitz in Österreich.</p>
<div class="eligibility">Teilnahmeberechtigt sind Startups und junge Unternehmen mit Forschung und Innovation.</div>
<div class="requirements">Erforderliche Unterlagen: Businessplan, Finanzplan und Pitch Deck.</div>
<table>
<tr><th>Förderhöhe</th><td>bis zu 800.000 €</td></tr>
<tr><th>Eigenmittel</th><td>mindestens 20 %</td></tr>
<tr><th>Laufzeit</th><td>3 Jahre</td></tr>
</table>
<p>Bewerbungsfrist: 15.03.2026</p>
<div class="contact">Ihre Ansprechpartnerin: Maria Muster, seed@aws.at, Tel. +43 1 5017 5000</div>
</main>
</body></html>`

func newTestExtractor(now time.Time) *Extractor {
	e := New(DefaultConfig(), logger.Discard())
	e.Clock = func() time.Time { return now }
	return e
}

func awsInstitution(t *testing.T) institution.Config {
	t.Helper()
	inst, err := institution.DefaultRegistry().Find("institution_aws")
	require.NoError(t, err)
	return inst
}

func TestExtractProgramPage(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newTestExtractor(now)
	inst := awsInstitution(t)

	res := e.Extract(seedPage, "https://www.aws.at/foerderungen/seed-finanzierung/", inst)
	require.True(t, res.OK(), res.Reason)
	p := res.Program

	assert.True(t, strings.HasPrefix(p.ID, "program_1767225600000_"), p.ID)
	assert.Equal(t, "aws Seed-Finanzierung", p.Name)
	assert.Equal(t, "Die Förderung richtet sich an innovative Startups mit Sitz in Österreich.", p.Description)
	assert.Equal(t, "https://www.aws.at/foerderungen/seed-finanzierung/", p.SourceURL)
	assert.Equal(t, inst.Name, p.Institution)
	assert.Equal(t, "grant", p.Type)
	assert.Equal(t, p.Type, p.ProgramType)
	assert.Equal(t, p.Type, p.ProgramCategory)
	assert.Equal(t, inst.FundingTypes, p.FundingTypes)
	assert.Equal(t, "Austria", p.Region)

	require.NotNil(t, p.FundingAmountMax)
	assert.Equal(t, 800000.0, *p.FundingAmountMax)
	assert.Nil(t, p.FundingAmountMin)
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, "15.03.2026", p.Deadline)

	assert.Equal(t, "seed@aws.at", p.ContactEmail)
	assert.Equal(t, "+43150175000", p.ContactPhone)
	assert.Equal(t, "seed@aws.at", p.ContactInfo.Email)
	assert.Equal(t, "+43 1 5017 5000", p.ContactInfo.Phone)
	assert.Contains(t, p.ContactInfo.Text, "Maria Muster")

	require.NotNil(t, p.CofinancingPct)
	assert.Equal(t, 25.0, *p.CofinancingPct, "structured value wins over requirement entries")

	assert.Equal(t, map[string]any{"company_type": "startup", "research_focus": true, "innovation_focus": true}, p.EligibilityCriteria)
	assert.Subset(t, p.ProgramFocus, []string{"innovation", "research", "startup", "business", "export"})

	reqs := p.CategorizedRequirements
	assert.Len(t, reqs, len(storage.RequirementCategories))
	assert.True(t, reqs.HasType(storage.CategoryFinancial, "funding_amount_max"))
	assert.True(t, reqs.HasType(storage.CategoryCoFinancing, "co_financing_percentage"))
	assert.True(t, reqs.HasType(storage.CategoryTimeline, "duration"))
	assert.True(t, reqs.HasType(storage.CategoryTimeline, "deadline"))
	assert.True(t, reqs.HasType(storage.CategoryDocuments, "documents_required"))
	assert.True(t, reqs.HasType(storage.CategoryEligibility, "company_type"))

	assert.Equal(t, now, p.ScrapedAt)
	assert.Equal(t, 0.8, p.ConfidenceScore)
	assert.True(t, p.IsActive)
}

func TestExtractCofinancingFromRequirements(t *testing.T) {
	html := strings.Replace(seedPage, `"cofinancing_pct":25`, `"name":"Seed"`, 1)
	res := newTestExtractor(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)).Extract(html, "https://www.aws.at/foerderungen/seed-finanzierung/", awsInstitution(t))
	require.True(t, res.OK())

	require.NotNil(t, res.Program.CofinancingPct)
	assert.Equal(t, 20.0, *res.Program.CofinancingPct)
}

func TestExtractFallbacks(t *testing.T) {
	inst := awsInstitution(t)
	e := newTestExtractor(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	t.Run("meta description", func(t *testing.T) {
		html := `<html><head><meta name="description" content="Das Basisprogramm fördert Forschung und Entwicklung in Unternehmen."></head>
<body><h1>Basisprogramm</h1></body></html>`
		res := e.Extract(html, "https://www.ffg.at/basisprogramm", inst)
		require.True(t, res.OK())
		assert.Equal(t, "Basisprogramm", res.Program.Name)
		assert.Equal(t, "Das Basisprogramm fördert Forschung und Entwicklung in Unternehmen.", res.Program.Description)
	})

	t.Run("defaults", func(t *testing.T) {
		res := e.Extract(`<html><body><div>x</div></body></html>`, "https://www.aws.at/foerderungen/x", inst)
		require.True(t, res.OK())
		assert.Equal(t, "Unknown Program", res.Program.Name)
		assert.Equal(t, "No description available", res.Program.Description)
		assert.Nil(t, res.Program.FundingAmountMax)
		assert.Empty(t, res.Program.Deadline)
	})

	t.Run("long description is truncated", func(t *testing.T) {
		long := strings.Repeat("Förderung ", 300)
		res := e.Extract(`<html><body><h1>Ein langes Programm</h1><p>`+long+`</p></body></html>`, "https://www.aws.at/foerderungen/lang", inst)
		require.True(t, res.OK())
		assert.True(t, strings.HasSuffix(res.Program.Description, "..."))
		assert.LessOrEqual(t, len(res.Program.Description), maxDescription+3)
	})

	t.Run("empty page", func(t *testing.T) {
		res := e.Extract("  ", "https://www.aws.at/foerderungen/leer", inst)
		assert.False(t, res.OK())
		assert.ErrorIs(t, res.Err, ErrEmptyPage)
	})
}

func TestExtractDeadlineFromPageFields(t *testing.T) {
	inst := awsInstitution(t)
	e := newTestExtractor(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"deadline element", `<span class="deadline">30.04.2026</span>`, "30.04.2026"},
		{"labelled table row", `<table><tr><th>Einreichfrist</th><td>31.05.2026</td></tr></table>`, "31.05.2026"},
		{"unlabelled table row", `<table><tr><th>Stand</th><td>31.05.2026</td></tr></table>`, ""},
		{"publication date", `<p>Veröffentlicht am 12.02.2026</p>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Extract(`<html><body><h1>Ein Förderprogramm</h1>`+tt.body+`</body></html>`, "https://www.aws.at/foerderungen/frist", inst)
			require.True(t, res.OK())
			assert.Equal(t, tt.want, res.Program.Deadline)
		})
	}
}

func TestDetectFundingType(t *testing.T) {
	tests := []struct {
		text  string
		types []string
		want  string
	}{
		{"Zinsgünstiger Kredit für KMU", nil, "loan"},
		{"Equity for scale-ups", nil, "equity"},
		{"Förderung für Gründer", []string{"loan"}, "grant"},
		{"Forschung an Hochschulen", nil, "research"},
		{"Nichts Genaues", []string{"equity"}, "equity"},
		{"Nichts Genaues", nil, "grant"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFundingType(tt.text, tt.types))
		})
	}
}

func TestDetectProgramFocus(t *testing.T) {
	got := DetectProgramFocus("Digitalisierung und Energie für Unternehmen", []string{"Export-Initiative"})
	assert.Equal(t, []string{"business", "digital", "energy", "export"}, got)

	assert.Empty(t, DetectProgramFocus("", nil))
}
