package extractor

import "strings"

type focusArea struct {
	name     string
	keywords []string
}

// focusAreas are checked in order; a page may match several.
var focusAreas = []focusArea{
	{"innovation", []string{"innovation", "innovativ", "innovazione", "innovación", "innovatie", "innover", "innovatif"}},
	{"research", []string{"research", "forschung", "recherche", "ricerca", "investigación", "onderzoek"}},
	{"startup", []string{"startup", "neugründung", "création", "creazione", "creación", "oprichting", "start-up"}},
	{"export", []string{"export", "ausfuhr", "exportation", "esportazione", "exportación", "uitvoer"}},
	{"employment", []string{"employment", "beschäftigung", "emploi", "occupazione", "empleo", "werkgelegenheid"}},
	{"training", []string{"training", "ausbildung", "formation", "formazione", "formación", "opleiding"}},
	{"business", []string{"business", "unternehmen", "entreprise", "impresa", "empresa", "bedrijf"}},
	{"sustainability", []string{"sustainability", "nachhaltigkeit", "durabilité", "sostenibilità", "sostenibilidad", "duurzaamheid"}},
	{"transport", []string{"transport", "verkehr", "trasporto", "transporte", "vervoer"}},
	{"technology", []string{"technology", "technologie", "tecnologia", "tecnología"}},
	{"digital", []string{"digital", "numérique", "digitale", "digitaal"}},
	{"environment", []string{"environment", "umwelt", "environnement", "ambiente", "medio ambiente", "milieu"}},
	{"energy", []string{"energy", "energie", "énergie", "energia", "energía"}},
	{"healthcare", []string{"healthcare", "gesundheit", "santé", "sanità", "salud", "gezondheidszorg"}},
	{"education", []string{"education", "bildung", "éducation", "istruzione", "educación", "onderwijs"}},
}

// institutionHints map institution keyword fragments to focus areas.
var institutionHints = []string{"innovation", "startup", "export", "research"}

// DetectProgramFocus returns the focus areas mentioned in text, plus those
// implied by the institution keywords. The result has no duplicates.
func DetectProgramFocus(text string, institutionKeywords []string) []string {
	lower := strings.ToLower(text)
	seen := map[string]bool{}
	focus := []string{}
	add := func(area string) {
		if !seen[area] {
			seen[area] = true
			focus = append(focus, area)
		}
	}

	for _, area := range focusAreas {
		for _, kw := range area.keywords {
			if strings.Contains(lower, kw) {
				add(area.name)
				break
			}
		}
	}
	for _, kw := range institutionKeywords {
		kw = strings.ToLower(kw)
		for _, hint := range institutionHints {
			if strings.Contains(kw, hint) {
				add(hint)
			}
		}
	}
	return focus
}

// DetectFundingType picks the funding type from the page text, falling back to
// the institution's first type and then to grant.
func DetectFundingType(text string, institutionTypes []string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "grant") || strings.Contains(lower, "förderung"):
		return "grant"
	case strings.Contains(lower, "loan") || strings.Contains(lower, "kredit"):
		return "loan"
	case strings.Contains(lower, "equity") || strings.Contains(lower, "beteiligung"):
		return "equity"
	case strings.Contains(lower, "startup"):
		return "startup"
	case strings.Contains(lower, "research") || strings.Contains(lower, "forschung"):
		return "research"
	}
	if len(institutionTypes) > 0 && institutionTypes[0] != "" {
		return institutionTypes[0]
	}
	return "grant"
}
