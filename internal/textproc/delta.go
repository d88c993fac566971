package textproc

import (
	"strings"
	"unicode/utf8"
)

const (
	// overlapWindow bounds how many trailing tokens of the previous text are
	// tried as an overlap with the start of the current text.
	overlapWindow = 20
	// boundaryTail is how many trailing tokens of the previous text are
	// checked when dropping boundary fragments.
	boundaryTail = 3
	// boundaryHead is how many leading delta tokens may be dropped.
	boundaryHead = 2
)

// Extract returns the part of current that previous does not already cover.
//
// When current extends previous the remainder is returned verbatim, leading
// whitespace included, so previous+Extract(previous, current) == current.
// Otherwise the longest suffix of previous (up to 20 tokens) that matches
// the start of current is located and everything after it is returned. No
// overlap means current is entirely new. An empty result means nothing new.
func Extract(previous, current string) string {
	if strings.TrimSpace(current) == "" {
		return ""
	}
	if previous == "" {
		return current
	}
	if strings.HasPrefix(current, previous) {
		return current[len(previous):]
	}

	np, nc := Normalize(previous), Normalize(current)
	if nc == "" || strings.Contains(np, nc) {
		return ""
	}

	unspaced := Unspaced(current)
	prev := tokenize(previous, unspaced)
	cur := tokenize(current, unspaced)
	if len(prev) == 0 || len(cur) == 0 {
		return current
	}

	// normalized prefix: same text with different casing or punctuation
	if len(cur) > len(prev) && tokensEqual(prev, cur[:len(prev)]) {
		return current[cur[len(prev)].start:]
	}

	window := min(overlapWindow, len(prev), len(cur))
	for k := window; k >= 1; k-- {
		if !tokensEqual(prev[len(prev)-k:], cur[:k]) {
			continue
		}
		rest := cur[k:]
		if !unspaced {
			rest = dropBoundaryFragments(rest, prev)
		}
		if len(rest) == 0 {
			return ""
		}
		return current[rest[0].start:]
	}
	return current
}

func tokensEqual(a, b []token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].norm != b[i].norm {
			return false
		}
	}
	return true
}

// dropBoundaryFragments removes leading delta tokens that are a short
// prefix or suffix of a token at the tail of the previous text; they are
// re-rendered pieces of a word the caption surface already showed. Short
// words that merely occur inside a tail token are kept.
func dropBoundaryFragments(rest, prev []token) []token {
	tail := prev[max(0, len(prev)-boundaryTail):]
	dropped := 0
	for dropped < boundaryHead && dropped < len(rest) {
		if !isFragmentOf(rest[dropped].norm, tail) {
			break
		}
		dropped++
	}
	return rest[dropped:]
}

func isFragmentOf(s string, tail []token) bool {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return false
	}
	for _, t := range tail {
		if n*2 >= utf8.RuneCountInString(t.norm) {
			continue
		}
		if strings.HasPrefix(t.norm, s) || strings.HasSuffix(t.norm, s) {
			return true
		}
	}
	return false
}
