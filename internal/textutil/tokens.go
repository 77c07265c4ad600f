package textutil

import (
	"regexp"
	"strings"
)

// tokenSplitPattern matches non-alphanumeric character sequences for tokenization.
var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize splits text into lowercase tokens, filtering tokens shorter than
// three characters.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	raw := tokenSplitPattern.Split(lowered, -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.TrimSpace(token)
		if len(token) < 3 {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// TokenOverlap reports the fraction of tokens in a that also appear in b.
// Returns 0 when a produces no tokens.
func TokenOverlap(a, b string) float64 {
	tokensA := Tokenize(a)
	if len(tokensA) == 0 {
		return 0
	}
	setB := make(map[string]struct{})
	for _, token := range Tokenize(b) {
		setB[token] = struct{}{}
	}
	if len(setB) == 0 {
		return 0
	}
	matched := 0
	for _, token := range tokensA {
		if _, ok := setB[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(tokensA))
}
