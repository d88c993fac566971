package segment

import (
	"strings"
	"time"

	"github.com/fankserver/caption-collector/internal/textproc"
)

// Consolidate is the final cleanup pass over a session. Consecutive segments
// of the same group and chunk are merged, run through the repetition filter
// again and split back into sentence-level segments whose times are spread
// over the merged span by word count. The input is left untouched.
func Consolidate(segments []CaptionSegment, now time.Time) []CaptionSegment {
	var out []CaptionSegment
	for i := 0; i < len(segments); {
		j := i + 1
		for j < len(segments) && segments[j].Group == segments[i].Group && segments[j].Chunk == segments[i].Chunk {
			j++
		}
		out = append(out, consolidateRun(segments[i:j], now)...)
		i = j
	}
	return out
}

func consolidateRun(run []CaptionSegment, now time.Time) []CaptionSegment {
	texts := make([]string, 0, len(run))
	kind := run[0].SourceKind
	start, end := run[0].Start, run[0].End
	for _, s := range run {
		texts = append(texts, s.Text)
		if s.SourceKind != kind {
			kind = SourceReconstructed
		}
		start = min(start, s.Start)
		end = max(end, s.End)
	}

	sep := " "
	if textproc.Unspaced(strings.Join(texts, "")) {
		sep = ""
	}
	cleaned := textproc.RemoveRepetitions(strings.Join(texts, sep))
	sentences := textproc.Sentences(cleaned)
	if len(sentences) == 0 {
		return nil
	}

	total := 0
	weights := make([]int, len(sentences))
	for i, s := range sentences {
		weights[i] = max(1, textproc.WordCount(s))
		total += weights[i]
	}

	span := end - start
	out := make([]CaptionSegment, 0, len(sentences))
	cursor := start
	for i, s := range sentences {
		d := span * float64(weights[i]) / float64(total)
		out = append(out, CaptionSegment{
			Start:      cursor,
			End:        cursor + d,
			Duration:   d,
			Text:       s,
			SourceKind: kind,
			CreatedAt:  now,
			Group:      run[0].Group,
			Chunk:      run[0].Chunk,
		})
		cursor += d
	}
	return out
}
