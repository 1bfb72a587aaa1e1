package tracker

import "strings"

// DefaultAliases maps logical target ids to title fragments, tried in order.
func DefaultAliases() map[string][]string {
	return map[string][]string{
		"minecraft": {"Minecraft"},
		"notepad":   {"Notepad", "Bloco de Notas"},
		"chrome":    {"Chrome"},
		"amongus":   {"Among Us"},
		"osu":       {"osu!"},
		"honkai":    {"Honkai"},
		"epic7":     {"BlueStacks", "LDPlayer", "MuMu"},
	}
}

// MergeAliases returns base overlaid with overrides. Keys are lowercased.
func MergeAliases(base, overrides map[string][]string) map[string][]string {
	out := make(map[string][]string, len(base)+len(overrides))
	for k, v := range base {
		out[strings.ToLower(k)] = v
	}
	for k, v := range overrides {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v
		}
	}
	return out
}
