// Package normalize canonicalizes user ids before they are stored or compared.
package normalize

import (
	"sort"
	"strings"
)

// ID returns a user or room id with surrounding whitespace removed.
func ID(id string) string {
	return strings.TrimSpace(id)
}

// Pair returns both ids normalized and sorted ascending.
func Pair(a, b string) [2]string {
	a, b = ID(a), ID(b)
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// IDs normalizes, de-duplicates and sorts ids, dropping empty entries.
func IDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = ID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
