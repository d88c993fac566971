package textproc

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// maxPhraseLen is the longest phrase, in units, compared for repetition.
	maxPhraseLen = 15
	// adjacentPassCeiling bounds the adjacent-phrase collapse loop.
	adjacentPassCeiling = 64
	// distantCompareBudget bounds window comparisons in the non-adjacent pass.
	distantCompareBudget = 50000
	// minDistantPhrase is the shortest phrase removed when it recurs later.
	minDistantPhrase = 5
	// minRunePhrase is the shortest adjacent phrase in unspaced text.
	minRunePhrase = 4
	// NearExactThreshold is the edit similarity above which two phrases or
	// sentences are treated as the same.
	NearExactThreshold = 0.9
	// nearExactMinRunes keeps near-exact matching away from short phrases
	// where a single edit is a different word.
	nearExactMinRunes = 12
	// maxFilterRounds bounds the outer fixpoint loop.
	maxFilterRounds = 4
)

// RemoveRepetitions cleans text of exact adjacent word repeats, adjacent
// repeated phrases, phrases that recur later in the buffer and repeated
// sentences. The first occurrence is always the one kept. Applying it to its
// own output returns that output unchanged.
func RemoveRepetitions(text string) string {
	text = collapseSpaces(text)
	if text == "" {
		return ""
	}
	for round := 0; round < maxFilterRounds; round++ {
		next := filterOnce(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func filterOnce(text string) string {
	unspaced := Unspaced(text)
	units := splitUnits(text, unspaced)
	norms := make([]string, len(units))
	for i, u := range units {
		norms[i] = Normalize(u)
	}

	if !unspaced {
		units, norms = collapseAdjacentUnits(units, norms)
	}
	units, norms = collapseAdjacentPhrases(units, norms, unspaced)
	units, _ = removeDistantPhrases(units, norms, unspaced)

	return dedupSentences(collapseSpaces(joinUnits(units, unspaced)), unspaced)
}

// collapseAdjacentUnits drops a word immediately followed by itself.
func collapseAdjacentUnits(units, norms []string) ([]string, []string) {
	outU := units[:0:0]
	outN := norms[:0:0]
	for i := range units {
		if n := len(outN); n > 0 && norms[i] != "" && norms[i] == outN[n-1] {
			continue
		}
		outU = append(outU, units[i])
		outN = append(outN, norms[i])
	}
	return outU, outN
}

// collapseAdjacentPhrases removes the second of two adjacent equal-length
// windows that match, repeating until nothing changes or the pass ceiling
// is reached.
func collapseAdjacentPhrases(units, norms []string, unspaced bool) ([]string, []string) {
	minN := 2
	if unspaced {
		minN = minRunePhrase
	}
	for pass := 0; pass < adjacentPassCeiling; pass++ {
		changed := false
		maxN := min(maxPhraseLen, len(units)/2)
		for n := minN; n <= maxN && !changed; n++ {
			for i := 0; i+2*n <= len(units); i++ {
				if sameWindow(norms[i:i+n], norms[i+n:i+2*n], unspaced) {
					units = slices.Delete(units, i+n, i+2*n)
					norms = slices.Delete(norms, i+n, i+2*n)
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}
	return units, norms
}

// removeDistantPhrases removes later occurrences of a phrase that already
// appeared earlier in the buffer with any gap in between. Longer phrases are
// tried first; the number of window comparisons is bounded.
func removeDistantPhrases(units, norms []string, unspaced bool) ([]string, []string) {
	minN := minDistantPhrase
	if unspaced {
		minN = 2 * minRunePhrase
	}
	budget := distantCompareBudget
	for n := min(maxPhraseLen, len(units)/2); n >= minN; n-- {
		for i := 0; i+2*n <= len(units); i++ {
			for j := i + n; j+n <= len(units); j++ {
				if budget--; budget <= 0 {
					return units, norms
				}
				if sameWindow(norms[i:i+n], norms[j:j+n], unspaced) {
					units = slices.Delete(units, j, j+n)
					norms = slices.Delete(norms, j, j+n)
					j--
				}
			}
		}
	}
	return units, norms
}

// sameWindow compares two windows of normalized units: exact match, or edit
// similarity above NearExactThreshold for windows long enough for that to be
// meaningful.
func sameWindow(a, b []string, unspaced bool) bool {
	ka, kb := windowKey(a, unspaced), windowKey(b, unspaced)
	if ka == "" || kb == "" {
		return false
	}
	if ka == kb {
		return true
	}
	return nearExact(ka, kb)
}

func nearExact(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if min(la, lb) < nearExactMinRunes {
		return false
	}
	// levenshtein >= |la-lb|, so a large length gap can never pass
	if float64(abs(la-lb)) >= (1-NearExactThreshold)*float64(max(la, lb)) {
		return false
	}
	return EditSimilarity(a, b) > NearExactThreshold
}

func windowKey(norms []string, unspaced bool) string {
	var b strings.Builder
	for _, n := range norms {
		if n == "" {
			continue
		}
		if b.Len() > 0 && !unspaced {
			b.WriteByte(' ')
		}
		b.WriteString(n)
	}
	return b.String()
}

// dedupSentences drops any sentence identical or near-identical to one kept
// earlier in the same text.
func dedupSentences(text string, unspaced bool) string {
	sentences := Sentences(text)
	if len(sentences) < 2 {
		return text
	}
	kept := make([]string, 0, len(sentences))
	keys := make([]string, 0, len(sentences))
	for _, s := range sentences {
		key := Normalize(s)
		if key != "" && seenSentence(key, keys) {
			continue
		}
		kept = append(kept, s)
		keys = append(keys, key)
	}
	sep := " "
	if unspaced {
		sep = ""
	}
	return collapseSpaces(strings.Join(kept, sep))
}

func seenSentence(key string, keys []string) bool {
	for _, k := range keys {
		if k == key || nearExact(k, key) {
			return true
		}
	}
	return false
}

// Sentences splits text after sentence-terminating punctuation. Trailing
// closing quotes stay with their sentence; the final piece may lack a
// terminator. Pieces are trimmed and never empty.
func Sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !IsTerminal(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && (IsTerminal(runes[end]) || strings.ContainsRune(`"'”’」』)]`, runes[end])) {
			end++
		}
		// a dot inside a token like "3.5" or "U.S" is not a boundary
		if runes[i] == '.' && end < len(runes) && !isCJK(runes[end]) &&
			(unicode.IsLetter(runes[end]) || unicode.IsDigit(runes[end])) {
			i = end - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
