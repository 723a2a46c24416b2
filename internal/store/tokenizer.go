package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches runs of word characters: letters (including CJK),
// digits, and underscore. Punctuation and whitespace separate tokens.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize splits text into lowercased word/CJK tokens. It is applied
// identically to stored source texts and to queries; any asymmetry here
// degrades lexical ranking silently rather than erroring.
func Tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}
