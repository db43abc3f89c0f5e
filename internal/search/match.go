package search

import (
	"math"
	"strings"
	"unicode"
)

// Fuzzy alignment factors.
const (
	boundaryBonus = 1.2
	matchFactor   = 0.9
	gapDecay      = 0.9
	fuzzyDiscount = 0.7
)

// prefixScore scores a case-insensitive prefix hit of q on name.
func prefixScore(q, name int) float64 {
	return 0.8 + 0.2*float64(q)/float64(name)
}

// fuzzyScore aligns pattern as a subsequence of text. Each matched character
// multiplies the score by boundaryBonus on a word boundary and matchFactor
// elsewhere; each unmatched text character between the first and last match
// multiplies it by gapDecay. The best product is normalised to a per-character
// geometric mean capped at 1. It returns 0 when pattern is not a subsequence.
func fuzzyScore(pattern, text string) float64 {
	p := []rune(strings.ToLower(pattern))
	orig := []rune(text)
	t := []rune(strings.ToLower(text))
	m, n := len(p), len(t)
	if m == 0 || m > n {
		return 0
	}

	// prev[j] is the best score aligning p[:j] within t[:i], ending anywhere
	// at or before i; 0 means impossible.
	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	prev[0] = 1
	best := 0.0
	for i := 1; i <= n; i++ {
		cur[0] = 1
		for j := 1; j <= m; j++ {
			score := prev[j] * gapDecay
			if t[i-1] == p[j-1] && prev[j-1] > 0 {
				factor := matchFactor
				if isBoundary(orig, i-1) {
					factor = boundaryBonus
				}
				s := prev[j-1] * factor
				// Trailing text is free: keep the best full alignment
				// ending with a match here.
				if j == m && s > best {
					best = s
				}
				if s > score {
					score = s
				}
			}
			cur[j] = score
		}
		prev, cur = cur, prev
	}
	if best == 0 {
		return 0
	}
	// The raw product shrinks with pattern length and exceeds 1 on
	// boundary-heavy alignments. The per-character geometric mean keeps one
	// threshold usable across query lengths; the cap keeps fuzzy hits at or
	// below an exact match.
	return math.Min(1, math.Pow(best, 1/float64(m)))
}

// isBoundary reports whether text[i] starts a word: first character, after a
// separator, or a lower-to-upper case transition.
func isBoundary(text []rune, i int) bool {
	if i == 0 {
		return true
	}
	prev, r := text[i-1], text[i]
	switch prev {
	case '_', '-', '.', '/', ' ', '$':
		return true
	}
	return unicode.IsLower(prev) && unicode.IsUpper(r) ||
		unicode.IsLetter(prev) && unicode.IsDigit(r)
}

// camelScore requires every query part to prefix-match a distinct name part.
func camelScore(queryParts, nameParts []string) (float64, bool) {
	if len(queryParts) == 0 || len(nameParts) == 0 {
		return 0, false
	}
	used := make([]bool, len(nameParts))
	for _, qp := range queryParts {
		q := strings.ToLower(qp)
		found := false
		for i, np := range nameParts {
			if !used[i] && strings.HasPrefix(strings.ToLower(np), q) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return 0.5 + 0.4*float64(len(queryParts))/float64(len(nameParts)), true
}

// acronymScore accepts when acr starts with the upper-cased query.
func acronymScore(query, acr string) (float64, bool) {
	q := strings.ToUpper(query)
	if len(q) < 2 || len(acr) == 0 || !strings.HasPrefix(acr, q) {
		return 0, false
	}
	return 0.6 + 0.3*float64(len(q))/float64(len(acr)), true
}

// semanticScore accepts when the signature contains the query.
func semanticScore(query, signature string) (float64, bool) {
	if signature == "" || !strings.Contains(strings.ToLower(signature), strings.ToLower(query)) {
		return 0, false
	}
	return 0.5 + 0.3*float64(len(query))/float64(len(signature)), true
}
