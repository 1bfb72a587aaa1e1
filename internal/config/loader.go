package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"jordanella.com/aimloop/internal/tracker"
)

// AliasSection is the INI section holding target aliases.
const AliasSection = "aliases"

// LoadAliases reads an alias file of the form
//
//	[aliases]
//	epic7 = BlueStacks, LDPlayer, MuMu
//
// and overlays it on the built-in table. An empty path returns the built-ins.
func LoadAliases(path string) (map[string][]string, error) {
	if path == "" {
		return tracker.DefaultAliases(), nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load alias file: %w", err)
	}

	overrides := make(map[string][]string)
	for _, key := range cfg.Section(AliasSection).Keys() {
		terms := splitTerms(key.String())
		if len(terms) == 0 {
			continue
		}
		overrides[strings.ToLower(key.Name())] = terms
	}
	return tracker.MergeAliases(tracker.DefaultAliases(), overrides), nil
}

// SaveAliases writes aliases in the format LoadAliases reads.
func SaveAliases(path string, aliases map[string][]string) error {
	cfg := ini.Empty()
	section := cfg.Section(AliasSection)
	for name, terms := range aliases {
		section.Key(name).SetValue(strings.Join(terms, ", "))
	}
	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save alias file: %w", err)
	}
	return nil
}

func splitTerms(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
