package textproc

import (
	"strings"
	"unicode"
)

// Weights of the auto-generated stream signals. They sum to 1.
const (
	cascadeWeight     = 0.5
	unpunctuateWeight = 0.35
	lowercaseWeight   = 0.15

	// AutoGeneratedCutoff is the score from which a stream is treated as
	// auto-generated.
	AutoGeneratedCutoff = 0.5
	// minClassifyReads is how many distinct reads are needed before any
	// verdict is given.
	minClassifyReads = 3
)

// StreamClass is the verdict of ClassifyStream.
type StreamClass struct {
	Score         float64 `json:"score"`
	Cascading     float64 `json:"cascading"`
	Unpunctuated  float64 `json:"unpunctuated"`
	Lowercase     float64 `json:"lowercase"`
	AutoGenerated bool    `json:"autoGenerated"`
}

// ClassifyStream scores how much a sequence of consecutive caption reads
// looks like an auto-generated (speech recognized) stream: reads that
// cascade into each other, lines without terminal punctuation and text with
// no capital letters.
func ClassifyStream(reads []string) StreamClass {
	if len(reads) < minClassifyReads {
		return StreamClass{}
	}

	var c StreamClass
	pairs, cascades := 0, 0
	for i := 1; i < len(reads); i++ {
		prev, cur := reads[i-1], reads[i]
		if prev == "" || cur == "" || prev == cur {
			continue
		}
		pairs++
		if cascadesFrom(prev, cur) {
			cascades++
		}
	}
	if pairs > 0 {
		c.Cascading = float64(cascades) / float64(pairs)
	}

	unpunctuated, cased, lower := 0, 0, 0
	for _, r := range reads {
		if !strings.ContainsFunc(r, IsTerminal) {
			unpunctuated++
		}
		if hasCase, allLower := caseProfile(r); hasCase {
			cased++
			if allLower {
				lower++
			}
		}
	}
	c.Unpunctuated = float64(unpunctuated) / float64(len(reads))
	if cased > 0 {
		c.Lowercase = float64(lower) / float64(cased)
	}

	c.Score = cascadeWeight*c.Cascading + unpunctuateWeight*c.Unpunctuated + lowercaseWeight*c.Lowercase
	c.AutoGenerated = c.Score >= AutoGeneratedCutoff
	return c
}

// cascadesFrom reports whether cur continues prev: it extends it, or starts
// with the tail of prev and adds something new.
func cascadesFrom(prev, cur string) bool {
	delta := strings.TrimSpace(Extract(prev, cur))
	if delta == "" {
		return false
	}
	return Normalize(delta) != Normalize(cur)
}

func caseProfile(s string) (hasCase, allLower bool) {
	allLower = true
	for _, r := range s {
		if unicode.IsUpper(r) {
			hasCase = true
			allLower = false
		} else if unicode.IsLower(r) {
			hasCase = true
		}
	}
	return hasCase, allLower
}
