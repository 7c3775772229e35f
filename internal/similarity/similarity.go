// Package similarity provides bounded string similarity scores in [0, 100]
// for normalized references and counterparty names.
package similarity

import (
	"math"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Provider scores how alike two normalized strings are. Implementations must
// be symmetric and deterministic, return 100 for identical non-empty input
// and stay within [0, 100]. Scores are not rounded; callers compare them
// against thresholds as returned.
type Provider interface {
	Similarity(a, b string) float64
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(a, b string) float64

// Similarity calls f(a, b).
func (f ProviderFunc) Similarity(a, b string) float64 {
	return f(a, b)
}

// indel counts a substitution as one deletion plus one insertion, which makes
// the normalized distance below a proper similarity ratio.
var indel = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 2,
	Matches: levenshtein.IdenticalRunes,
}

// Ratio returns 100 * (1 - indel(a, b) / (len(a) + len(b))) computed over runes.
// Two empty strings are identical.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	dist := levenshtein.DistanceForStrings(ra, rb, indel)
	return 100 * float64(total-dist) / float64(total)
}

// TokenSet compares strings as sets of whitespace separated tokens so that
// word order and repeated words do not matter.
type TokenSet struct{}

// Similarity implements Provider.
func (TokenSet) Similarity(a, b string) float64 {
	return TokenSetRatio(a, b)
}

// TokenSetRatio splits both strings into token sets and compares the shared
// tokens against each side's remainder, returning the best of the three
// pairwise ratios. When one side's tokens are a subset of the other's the
// result is 100. Empty input on either side scores 0.
func TokenSetRatio(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for tok := range setA {
		if setB[tok] {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			onlyB = append(onlyB, tok)
		}
	}

	if len(common) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	restA := strings.Join(onlyA, " ")
	restB := strings.Join(onlyB, " ")
	if sect == "" {
		return Ratio(restA, restB)
	}

	withA := sect + " " + restA
	withB := sect + " " + restB
	best := Ratio(withA, withB)
	best = math.Max(best, Ratio(sect, withA))
	best = math.Max(best, Ratio(sect, withB))
	return best
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
