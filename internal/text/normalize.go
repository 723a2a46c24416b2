// Package text provides the normalization applied to source texts before
// embedding and to queries before search. The two sides must match: a
// mismatch silently degrades retrieval quality rather than erroring.
package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes text for embedding and lexical indexing:
// NFKC normalization (folds full-width forms, compatibility variants),
// then collapsing whitespace runs to single spaces and trimming.
func Normalize(s string) string {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
