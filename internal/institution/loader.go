package institution

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
)

// LoadFile reads a registry from a yaml, json or toml file with a top-level
// "institutions" list. Selectors missing from an entry fall back to the
// built-in defaults.
func LoadFile(path string) (Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read institutions file %s: %w", path, err)
	}

	var file struct {
		Institutions []Config `mapstructure:"institutions"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to decode institutions file %s: %w", path, err)
	}
	if len(file.Institutions) == 0 {
		return nil, fmt.Errorf("institutions file %s lists no institutions", path)
	}

	for i := range file.Institutions {
		inst := &file.Institutions[i]
		if inst.Name == "" || inst.BaseURL == "" {
			return nil, fmt.Errorf("institution #%d needs name and base_url", i)
		}
		fillSelectors(&inst.Selectors)
	}
	return Registry(file.Institutions), nil
}

// Load returns the registry from path, or the built-in one when path is empty.
func Load(path string) (Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	return LoadFile(path)
}

func fillSelectors(s *Selectors) {
	if len(s.Name) == 0 {
		s.Name = defaultSelectors.Name
	}
	if len(s.Description) == 0 {
		s.Description = defaultSelectors.Description
	}
	if len(s.Eligibility) == 0 {
		s.Eligibility = defaultSelectors.Eligibility
	}
	if len(s.Requirements) == 0 {
		s.Requirements = defaultSelectors.Requirements
	}
	if len(s.Contact) == 0 {
		s.Contact = defaultSelectors.Contact
	}
}

// LearnedKeywords is the per-institution vocabulary learned by earlier runs.
type LearnedKeywords struct {
	GlobalKeywords []string
	ByFundingType  map[string][]string
	AllowFragments []string
	DenyFragments  []string
}

// LoadLearnedKeywords reads the optional side file. A missing or malformed file
// yields an empty map.
func LoadLearnedKeywords(path string) (map[string]LearnedKeywords, error) {
	out := make(map[string]LearnedKeywords)
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, fmt.Errorf("failed to read learned keywords: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return out, fmt.Errorf("learned keywords file %s is not valid JSON", path)
	}

	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		lk := LearnedKeywords{
			GlobalKeywords: stringArray(value.Get("global_keywords")),
			AllowFragments: stringArray(value.Get("allow_fragments")),
			DenyFragments:  stringArray(value.Get("deny_fragments")),
			ByFundingType:  make(map[string][]string),
		}
		value.Get("by_funding_type").ForEach(func(ft, words gjson.Result) bool {
			lk.ByFundingType[ft.String()] = stringArray(words)
			return true
		})
		out[key.String()] = lk
		return true
	})
	return out, nil
}

func stringArray(r gjson.Result) []string {
	var out []string
	for _, item := range r.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MergeKeywords returns a copy of inst whose keywords also include the learned
// global keywords, keeping the original order and dropping duplicates.
func MergeKeywords(inst Config, learned map[string]LearnedKeywords) Config {
	lk, ok := learned[inst.Key()]
	if !ok || len(lk.GlobalKeywords) == 0 {
		return inst
	}

	seen := make(map[string]struct{}, len(inst.Keywords)+len(lk.GlobalKeywords))
	merged := make([]string, 0, len(inst.Keywords)+len(lk.GlobalKeywords))
	for _, kw := range append(append([]string{}, inst.Keywords...), lk.GlobalKeywords...) {
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, kw)
	}
	inst.Keywords = merged
	return inst
}
