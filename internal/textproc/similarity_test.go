package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordOverlapGuarantees(t *testing.T) {
	samples := []string{
		"the quick brown fox",
		"The quick brown fox!",
		"今天天气很好",
		"a b",
		"jumps over the lazy dog",
	}

	assert.Equal(t, 1.0, WordOverlap("", ""))
	for _, s := range samples {
		assert.Equal(t, 1.0, WordOverlap(s, s), "identity for %q", s)
		assert.Equal(t, 0.0, WordOverlap(s, ""), "empty for %q", s)
		assert.Equal(t, 0.0, WordOverlap("", s), "empty for %q", s)
		for _, o := range samples {
			assert.Equal(t, WordOverlap(s, o), WordOverlap(o, s), "symmetry for %q/%q", s, o)
		}
	}
}

func TestWordOverlapScores(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{name: "three_of_five_words", a: "the quick brown fox", b: "the quick brown dog", expected: 0.6},
		{name: "case_insensitive", a: "Hello World", b: "hello world.", expected: 1},
		{name: "disjoint", a: "alpha beta gamma", b: "delta epsilon zeta", expected: 0},
		{name: "short_words_ignored", a: "a cat is", b: "a dog is", expected: 0},
		{name: "cjk_bigrams", a: "天气很好", b: "天气不好", expected: 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, WordOverlap(tt.a, tt.b), 1e-9)
		})
	}
}

func TestEditSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, EditSimilarity("", ""))
	assert.Equal(t, 1.0, EditSimilarity("same", "same"))
	assert.Equal(t, 0.0, EditSimilarity("abc", ""))
	assert.InDelta(t, 1-3.0/7.0, EditSimilarity("kitten", "sitting"), 1e-9)
	assert.Equal(t, EditSimilarity("flaw", "lawn"), EditSimilarity("lawn", "flaw"))
	assert.InDelta(t, 0.75, EditSimilarity("天气很好", "天气不好"), 1e-9)
}
