package textproc

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	// minWordLength is the shortest word that takes part in word overlap.
	minWordLength = 3
	// charGramSize is the n-gram width used for unspaced scripts.
	charGramSize = 2
)

// WordOverlap returns the Jaccard similarity of the two texts. Spaced text is
// compared over words longer than two characters, unspaced text over
// character bigrams. Both inputs are normalized first.
func WordOverlap(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	switch {
	case na == "" && nb == "":
		return 1
	case na == "" || nb == "":
		return 0
	case na == nb:
		return 1
	}

	var sa, sb map[string]struct{}
	if Unspaced(na) || Unspaced(nb) {
		sa, sb = charGrams(na), charGrams(nb)
	} else {
		sa, sb = wordSet(na), wordSet(nb)
	}
	if len(sa) == 0 || len(sb) == 0 {
		// only short words on at least one side; they differ, see above
		return 0
	}
	return jaccard(sa, sb)
}

// Similarity is the score used by the segment uniqueness gate.
func Similarity(a, b string) float64 {
	return WordOverlap(a, b)
}

// EditSimilarity returns 1 - levenshtein(a,b)/max(len(a),len(b)) measured in
// runes. Inputs are compared as given; callers normalize when they need to.
func EditSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	if a == b {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		if utf8.RuneCountInString(w) >= minWordLength {
			set[w] = struct{}{}
		}
	}
	return set
}

func charGrams(s string) map[string]struct{} {
	runes := []rune(strings.ReplaceAll(s, " ", ""))
	set := make(map[string]struct{})
	if len(runes) < charGramSize {
		if len(runes) > 0 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i+charGramSize <= len(runes); i++ {
		set[string(runes[i:i+charGramSize])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
