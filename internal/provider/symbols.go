package provider

import (
	"sort"
	"strings"
)

// MaxSymbols is the default cap on symbols per request.
const MaxSymbols = 10

// NormalizeBase trims and uppercases a currency code.
func NormalizeBase(base string) string {
	return strings.ToUpper(strings.TrimSpace(base))
}

// ParseSymbols splits a comma-separated list, normalizes each code, drops
// empties and duplicates, and keeps at most max entries (MaxSymbols if max <= 0).
func ParseSymbols(csv string, max int) []string {
	if max <= 0 {
		max = MaxSymbols
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = NormalizeBase(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
		if len(out) == max {
			break
		}
	}
	return out
}

// KeyOf builds the cache key for a request shape: BASE__SYM1,SYM2 with symbols
// normalized, deduplicated and sorted, so order and casing never matter.
func KeyOf(base string, symbols []string) string {
	return NormalizeBase(base) + "__" + strings.Join(SymbolSet(symbols), ",")
}

// SymbolSet returns symbols uppercased, trimmed, deduplicated and sorted.
func SymbolSet(symbols []string) []string {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = NormalizeBase(s)
		if s != "" {
			set[s] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(set))
	for s := range set {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)
	return sorted
}
