package textproc

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// token is a word (spaced text) or a single character (unspaced text) with
// its byte span in the source string.
type token struct {
	text  string
	norm  string
	start int
	end   int
}

// tokenize splits text into tokens. Unspaced text yields one token per
// non-space rune.
func tokenize(text string, unspaced bool) []token {
	var toks []token
	if unspaced {
		for i, r := range text {
			if unicode.IsSpace(r) {
				continue
			}
			s := string(r)
			toks = append(toks, token{text: s, norm: Normalize(s), start: i, end: i + utf8.RuneLen(r)})
		}
		return toks
	}

	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				s := text[start:i]
				toks = append(toks, token{text: s, norm: Normalize(s), start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		s := text[start:]
		toks = append(toks, token{text: s, norm: Normalize(s), start: start, end: len(text)})
	}
	return toks
}

// splitUnits returns the units the repetition filter works on: words for
// spaced text, runes (spaces included) for unspaced text.
func splitUnits(text string, unspaced bool) []string {
	if !unspaced {
		return strings.Fields(text)
	}
	units := make([]string, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		units = append(units, string(r))
	}
	return units
}

func joinUnits(units []string, unspaced bool) string {
	if unspaced {
		return strings.TrimSpace(strings.Join(units, ""))
	}
	return strings.Join(units, " ")
}

// collapseSpaces trims text and reduces every whitespace run to one space.
func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// WordCount counts words in spaced text and runes in unspaced text.
func WordCount(text string) int {
	if Unspaced(text) {
		n := 0
		for _, r := range text {
			if !unicode.IsSpace(r) && !unicode.IsPunct(r) {
				n++
			}
		}
		return n
	}
	return len(strings.Fields(text))
}
