package metrics

import (
	"regexp"
	"strings"
)

var wordRE = regexp.MustCompile(`\b\w+\b`)

// Tokenize lowercases the text and splits it into word tokens.
func Tokenize(text string) []string {
	return wordRE.FindAllString(strings.ToLower(text), -1)
}

// Jaccard computes the token-set Jaccard similarity between two texts:
// the ratio of shared to total distinct tokens. Two empty texts are
// identical (1.0); one empty text is maximally dissimilar (0.0).
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}
