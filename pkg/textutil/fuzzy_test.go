package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"smith", "smyth", 1},
		{"ivanov", "ivanova", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, levenshteinDistance(tt.a, tt.b),
			"levenshteinDistance(%q, %q)", tt.a, tt.b)
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 100, Ratio("", ""))
	assert.Equal(t, 0, Ratio("", "smith"))
	assert.Equal(t, 100, Ratio("smith", "smith"))

	// one edit in five characters
	assert.Equal(t, 80, Ratio("smith", "smyth"))

	// completely different strings score low
	assert.Less(t, Ratio("smith", "kowalski"), 30)
}

func TestTokenSortRatio(t *testing.T) {
	// word order must not matter
	assert.Equal(t, 100, TokenSortRatio("john smith", "smith john"))

	// typos still score high
	assert.GreaterOrEqual(t, TokenSortRatio("john smith", "jon smith"), 85)

	// different names score below the resolve threshold
	assert.Less(t, TokenSortRatio("john smith", "anna kowalska"), 85)

	// normalized cross-script names match exactly
	assert.Equal(t, 100, TokenSortRatio(NormalizeName("Иванов Петр"), NormalizeName("Petr Ivanov")))
}

func TestTokenSortRatio_Symmetric(t *testing.T) {
	a, b := "maria nowak", "nowak marya"
	assert.Equal(t, TokenSortRatio(a, b), TokenSortRatio(b, a))
}
