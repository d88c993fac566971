package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fankserver/caption-collector/internal/textproc"
)

// Rejection reasons reported by CheckQuality.
const (
	ReasonTooShort     = "too_short"
	ReasonNoContent    = "no_content"
	ReasonAnnotation   = "annotation"
	ReasonGeneric      = "generic"
	ReasonRepetition   = "repetition"
	ReasonLowDiversity = "low_diversity"
	// ReasonSilence is set by the queue for chunks without speech; such
	// chunks are never sent.
	ReasonSilence = "silence"
)

const (
	minTranscriptRunes = 3
	maxImmediateRepeat = 3
	minTokenDiversity  = 0.3
)

// genericOutputs are normalized texts speech models emit for silence, music
// or noise.
var genericOutputs = map[string]struct{}{
	"thank you for watching":    {},
	"thanks for watching":       {},
	"thank you for watching it": {},
	"please subscribe":          {},
	"like and subscribe":        {},
	"no speech detected":        {},
	"blank_audio":               {},
	"you":                       {},
}

var genericPrefixes = []string{
	"subtitles by",
	"subtitles made by",
	"transcribed by",
	"captions by",
	"thanks for watching",
	"thank you for watching",
	"please subscribe",
}

// CheckQuality returns an empty string when text can be trusted, otherwise
// the reason it was rejected.
func CheckQuality(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minTranscriptRunes {
		return ReasonTooShort
	}
	if !strings.ContainsFunc(text, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }) {
		return ReasonNoContent
	}
	if isAnnotation(text) {
		return ReasonAnnotation
	}

	normalized := textproc.Normalize(text)
	if _, ok := genericOutputs[normalized]; ok {
		return ReasonGeneric
	}
	for _, p := range genericPrefixes {
		if strings.HasPrefix(normalized, p) {
			return ReasonGeneric
		}
	}

	tokens := strings.Fields(normalized)
	if hasImmediateRepeat(tokens, maxImmediateRepeat) {
		return ReasonRepetition
	}
	if len(tokens) > 3 && diversity(tokens) < minTokenDiversity {
		return ReasonLowDiversity
	}
	return ""
}

// isAnnotation matches outputs made only of bracketed sound tags or music
// notes such as "[BLANK_AUDIO]", "(music)", "*sigh*" or "♪ ♪".
func isAnnotation(text string) bool {
	depth := 0
	starred := false
	outside := false
	for _, r := range text {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		case '*':
			// *laughs* spans open and close on the same rune
			starred = !starred
		case '♪', '♫':
		default:
			if depth == 0 && !starred && !unicode.IsSpace(r) && !unicode.IsPunct(r) {
				outside = true
			}
		}
	}
	return !outside
}

func hasImmediateRepeat(tokens []string, n int) bool {
	run := 1
	for i := 1; i < len(tokens); i++ {
		if tokens[i] == tokens[i-1] {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 1
	}
	return false
}

func diversity(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		unique[t] = struct{}{}
	}
	return float64(len(unique)) / float64(len(tokens))
}
