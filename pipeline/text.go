package pipeline

import (
	"strings"
	"unicode"
)

// normalizeText lowercases, strips non-alphanumerics and collapses
// whitespace. It is the canonical normalization used for candidate ID
// derivation, content hashing and similarity tokenization, so any change
// here changes candidate identity across runs.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// tokenize splits normalized text into whitespace tokens.
func tokenize(s string) []string {
	return strings.Fields(normalizeText(s))
}

// jaccard computes the Jaccard similarity of two token sets.
// Both empty yields 1; one empty yields 0.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// equalFold is a case-insensitive string comparison shorthand.
func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// containsFold reports whether s contains substr, case-insensitively and
// punctuation-normalized on both sides.
func containsFold(s, substr string) bool {
	return strings.Contains(normalizeText(s), normalizeText(substr))
}

// slug converts a title into a lowercase hyphenated identifier segment.
func slug(s string) string {
	return strings.ReplaceAll(normalizeText(s), " ", "-")
}
