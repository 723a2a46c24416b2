package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "collapses whitespace runs",
			input: "Invoice   No.\t2024\n\n0815",
			want:  "Invoice No. 2024 0815",
		},
		{
			name:  "trims leading and trailing space",
			input: "  total 99.50  ",
			want:  "total 99.50",
		},
		{
			name:  "folds full-width forms via NFKC",
			input: "Ｉｎｖｏｉｃｅ　１２３",
			want:  "Invoice 123",
		},
		{
			name:  "empty stays empty",
			input: "   \n\t ",
			want:  "",
		},
		{
			name:  "plain text untouched",
			input: "already clean",
			want:  "already clean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}
