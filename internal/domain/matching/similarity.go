// Package matching implements confidence-scored patient matching: a
// composite name-similarity score blended from three independent signals,
// plus the threshold routing that decides between auto-assignment, manual
// review, and new-patient creation.
//
// The scoring pipeline is dependency-free and deterministic so the
// weighting and thresholds stay unit-testable in isolation.
package matching

import (
	"sort"
	"strings"
)

// levenshteinDistance computes the edit distance between two strings using
// two rolling rows, O(len(b)) memory.
func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(
				prev[j]+1,
				curr[j-1]+1,
				prev[j-1]+cost,
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// LevenshteinRatio is the edit-distance similarity normalized to [0, 1]:
// 1 - distance/maxLen.  Two empty strings score 1.
func LevenshteinRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 1
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

// TokenSortRatio sorts each name's tokens before comparing, so surname/given
// ordering differences ("garza maria" vs "maria garza") do not depress the
// score.
func TokenSortRatio(a, b string) float64 {
	return LevenshteinRatio(sortedTokens(a), sortedTokens(b))
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// TokenSetRatio compares the shared-token core against each side's
// remainder, which keeps the score high when one name is a superset of the
// other ("juan garcia" vs "juan carlos garcia").
func TokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	var inter, onlyA, onlyB []string
	for tok := range setA {
		if setB[tok] {
			inter = append(inter, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	core := strings.Join(inter, " ")
	full1 := strings.TrimSpace(core + " " + strings.Join(onlyA, " "))
	full2 := strings.TrimSpace(core + " " + strings.Join(onlyB, " "))

	best := LevenshteinRatio(core, full1)
	if r := LevenshteinRatio(core, full2); r > best {
		best = r
	}
	if r := LevenshteinRatio(full1, full2); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// CompositeSimilarity blends the three signals with the configured weights.
// Inputs must already be normalized (identity.NormalizeName); the caller is
// responsible for applying normalization symmetrically to both names.
func CompositeSimilarity(a, b string, w Weights) float64 {
	if a == "" || b == "" {
		return 0
	}
	score := w.Levenshtein*LevenshteinRatio(a, b) +
		w.TokenSort*TokenSortRatio(a, b) +
		w.TokenSet*TokenSetRatio(a, b)
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// Weights holds the blend weights of the three similarity signals.  They
// must sum to 1.0 with no single weight above 0.4, which config validation
// enforces at startup.
type Weights struct {
	Levenshtein float64
	TokenSort   float64
	TokenSet    float64
}

// DefaultWeights returns the institutional default blend.
func DefaultWeights() Weights {
	return Weights{Levenshtein: 0.35, TokenSort: 0.35, TokenSet: 0.30}
}
