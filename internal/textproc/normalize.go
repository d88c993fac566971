// Package textproc holds the comparison and cleanup primitives shared by the
// caption dedup layers: normalization, similarity scoring, delta extraction
// over cumulative caption text and repetition filtering.
package textproc

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// sentencePunct is stripped by Normalize. Apostrophes inside words are kept
// so contractions still compare as one token.
const sentencePunct = ".,!?;:\"…。、，！？；：「」『』（）()[]{}《》〈〉“”‘’«»¿¡"

var folder = cases.Fold()

// Normalize folds case, unifies full-width forms, collapses every whitespace
// class to a single space and strips sentence punctuation. The result is for
// comparison only and is never stored.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := folder.String(norm.NFKC.String(text))

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case strings.ContainsRune(sentencePunct, r):
			// punctuation separates like whitespace
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// isCJK reports whether r belongs to a script written without word spaces.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Thai, r)
}

func containsCJK(text string) bool {
	return strings.ContainsFunc(text, isCJK)
}

// Unspaced reports whether text should be tokenized per character rather than
// per word: it contains no space characters, or it contains CJK code points
// and no spaces between them.
func Unspaced(text string) bool {
	hasSpace, hasCJK := false, false
	for _, r := range text {
		if unicode.IsSpace(r) {
			hasSpace = true
		} else if isCJK(r) {
			hasCJK = true
		}
	}
	if hasCJK {
		return !hasSpace || cjkDominant(text)
	}
	return !hasSpace && text != ""
}

// cjkDominant reports whether more than half of the letters are CJK.
func cjkDominant(text string) bool {
	cjk, letters := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if isCJK(r) {
			cjk++
		}
	}
	return letters > 0 && cjk*2 > letters
}

// IsTerminal reports whether r ends a sentence.
func IsTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

// EndsSentence reports whether text ends with sentence-terminating
// punctuation, ignoring trailing quotes and brackets.
func EndsSentence(text string) bool {
	s := strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`"'”’」』)]`, r)
	})
	if s == "" {
		return false
	}
	runes := []rune(s)
	return IsTerminal(runes[len(runes)-1])
}
