package feed

import "strings"

// VendorTable maps a game-name substring to the canonical vendor string
// used in the destination catalog. Business policy, supplied by config.
type VendorTable map[string]string

// Canonical returns the canonical vendor for a game, falling back to the
// vendor string the source supplied.
func (t VendorTable) Canonical(game, sourceVendor string) string {
	for substr, vendor := range t {
		if strings.Contains(strings.ToLower(game), strings.ToLower(substr)) {
			return vendor
		}
	}
	return sourceVendor
}

// FactionTable maps a game key to its known faction names.
type FactionTable map[string][]string

// Match scans the source tags for a known faction of the given game and
// returns the first match, or empty when none is found.
func (t FactionTable) Match(game string, tags []string) string {
	key := strings.ToLower(game)
	factions, ok := t[key]
	if !ok {
		for k, v := range t {
			if strings.Contains(key, strings.ToLower(k)) {
				factions = v
				break
			}
		}
	}

	haystack := strings.ToLower(strings.Join(tags, " "))
	for _, f := range factions {
		if strings.Contains(haystack, strings.ToLower(f)) {
			return f
		}
	}
	return ""
}
