package cmd

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSnippet(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"short passthrough", "invoice total 99.50", 40, "invoice total 99.50"},
		{"whitespace collapsed", "invoice\n\ttotal   99.50", 40, "invoice total 99.50"},
		{"ascii truncation", "abcdefghij", 4, "abcd..."},
		{"empty", "", 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snippet(tt.input, tt.max))
		})
	}
}

func TestSnippet_NeverSplitsRunes(t *testing.T) {
	// Rechnungsprüfung text is full of multi-byte umlauts; any byte cut
	// inside one would yield invalid UTF-8
	text := strings.Repeat("Gebührenübersicht für Müller ", 10)
	for max := 1; max < 60; max++ {
		out := snippet(text, max)
		assert.True(t, utf8.ValidString(out), "max %d produced invalid UTF-8: %q", max, out)
		assert.LessOrEqual(t, len(out), max+len("..."))
	}
}
