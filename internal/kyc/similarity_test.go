package kyc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "Asha Verma", "Asha Verma", 100},
		{"case insensitive", "asha verma", "ASHA VERMA", 100},
		{"honorific stripped", "Dr. Asha Verma", "Asha Verma", 100},
		{"shri honorific stripped", "Shri Ramesh Kumar", "Ramesh Kumar", 100},
		{"extra whitespace", "Asha   Verma", "Asha Verma", 100},
		{"punctuation ignored", "O'Brien-Smith", "O Brien Smith", 100},
		{"empty side", "", "Asha Verma", 0},
		{"both empty", "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NameSimilarity(tt.a, tt.b))
		})
	}

	t.Run("unrelated names score low", func(t *testing.T) {
		assert.Less(t, NameSimilarity("Asha Verma", "Priya Nair"), 60)
	})
}

func TestNameSimilarity_Threshold(t *testing.T) {
	// A single-letter slip in a reasonably long name stays above the
	// default acceptance threshold.
	got := NameSimilarity("Ramesh Kumar", "Ramesh Kumer")
	assert.GreaterOrEqual(t, got, DefaultConfig().NameThreshold)

	// A different surname falls below it.
	got = NameSimilarity("Ramesh Kumar", "Ramesh Patel")
	assert.Less(t, got, DefaultConfig().NameThreshold)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("kitten", "kitten"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 6, levenshtein("", "ImageA"))
	assert.Equal(t, 4, levenshtein("тест", ""))
}
