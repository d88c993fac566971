package segment

import (
	"fmt"
	"testing"

	"github.com/fankserver/caption-collector/internal/textproc"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder() *Builder {
	return NewBuilder(DefaultBuilderConfig(), clockwork.NewFakeClock())
}

// feed runs candidates through the builder the way the session does,
// appending accepted segments to history.
func feed(b *Builder, history []CaptionSegment, text string, ts float64) ([]CaptionSegment, Decision) {
	seg, d := b.Build(text, ts, 0, SourceManual, history)
	if d.Accepted() {
		history = append(history, seg)
	}
	return history, d
}

func TestBuilderGapTriggersNewGroup(t *testing.T) {
	b := newTestBuilder()
	var history []CaptionSegment

	texts := []string{"alpha beta gamma", "delta epsilon zeta", "theta iota kappa", "lambda omicron sigma"}
	stamps := []float64{0, 2, 4, 40}
	var decisions []Decision
	for i := range texts {
		var d Decision
		history, d = feed(b, history, texts[i], stamps[i])
		decisions = append(decisions, d)
	}

	assert.Equal(t, []Decision{DecisionAppended, DecisionAppended, DecisionAppended, DecisionNewGroup}, decisions)
	require.Len(t, history, 4)
	assert.Equal(t, []int{0, 0, 0, 1}, []int{history[0].Group, history[1].Group, history[2].Group, history[3].Group})
	assert.Equal(t, 0, history[3].Chunk)
}

func TestBuilderBackwardSeekIsAlsoAGap(t *testing.T) {
	b := newTestBuilder()
	history, _ := feed(b, nil, "alpha beta gamma", 100)
	_, d := feed(b, history, "delta epsilon zeta", 20)
	assert.Equal(t, DecisionNewGroup, d)
}

var (
	adjectives = []string{"red", "quiet", "brave", "sleepy", "angry", "tiny", "giant", "clever", "muddy", "shiny", "frozen", "hungry", "lucky", "noisy", "proud"}
	nouns      = []string{"apple", "tiger", "castle", "pencil", "rocket", "garden", "window", "saddle", "violin", "harbor", "kettle", "lantern", "meadow", "tunnel", "bucket"}
	verbs      = []string{"sings", "jumps", "melts", "waits", "falls", "grows", "spins", "hides", "shouts", "floats", "drifts", "blinks", "climbs", "rests", "wanders"}
)

func TestBuilderChunkBoundary(t *testing.T) {
	tests := []struct {
		name     string
		auto     bool
		newChunk float64
	}{
		{name: "default_threshold", auto: false, newChunk: 50},
		{name: "auto_generated_threshold", auto: true, newChunk: 65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder()
			b.SetAutoGenerated(tt.auto)
			var history []CaptionSegment
			first := -1.0
			for i := 0; i < len(nouns); i++ {
				ts := float64(i * 5)
				var d Decision
				history, d = feed(b, history, fmt.Sprintf("%s %s %s", adjectives[i], nouns[i], verbs[i]), ts)
				require.True(t, d.Accepted())
				if d == DecisionNewChunk && first < 0 {
					first = ts
				}
			}
			assert.Equal(t, tt.newChunk, first)
		})
	}
}

func TestBuilderUniquenessGate(t *testing.T) {
	tests := []struct {
		name      string
		history   string
		candidate string
		rejected  bool
	}{
		{name: "near_identical", history: "the quick brown fox jumps", candidate: "The quick brown fox jumps!", rejected: true},
		{name: "substring_of_recent", history: "we are going home", candidate: "going home", rejected: true},
		{name: "superstring_of_recent", history: "going home", candidate: "we are going home now", rejected: true},
		{name: "different_content", history: "the quick brown fox jumps", candidate: "a completely unrelated remark", rejected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder()
			history, _ := feed(b, nil, tt.history, 0)
			_, d := feed(b, history, tt.candidate, 1)
			assert.Equal(t, tt.rejected, d == DecisionRejected)
		})
	}
}

func TestBuilderOldDuplicateOutsideWindows(t *testing.T) {
	b := newTestBuilder()
	history, _ := feed(b, nil, "repeat me please now", 0)
	for i, text := range []string{
		"orange bicycle tunnel",
		"violet hammer meadow",
		"silver kettle harbor",
		"copper lantern forest",
		"golden saddle river",
	} {
		history, _ = feed(b, history, text, float64(20+i))
	}
	require.Len(t, history, 6)

	_, d := feed(b, history, "repeat me please now", 100)
	assert.True(t, d.Accepted())
}

func TestBuilderEmptyText(t *testing.T) {
	b := newTestBuilder()
	_, d := b.Build("   ", 0, 0, SourceManual, nil)
	assert.Equal(t, DecisionEmpty, d)
}

func TestBuilderSegmentShape(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBuilder(DefaultBuilderConfig(), clock)

	seg, d := b.Build("  hello there friend  ", 12.5, 0, SourceReconstructed, nil)
	require.Equal(t, DecisionAppended, d)
	assert.Equal(t, "hello there friend", seg.Text)
	assert.Equal(t, 12.5, seg.Start)
	assert.Equal(t, 15.5, seg.End)
	assert.Equal(t, 3.0, seg.Duration)
	assert.Equal(t, SourceReconstructed, seg.SourceKind)
	assert.Equal(t, clock.Now(), seg.CreatedAt)

	seg, _ = b.Build("transcribed chunk text", 14, 8, SourceTranscribed, nil)
	assert.Equal(t, 22.0, seg.End)
	assert.GreaterOrEqual(t, seg.End, seg.Start)
}

func TestBuilderNoDuplicateSegments(t *testing.T) {
	pool := []string{
		"the weather is lovely today",
		"The weather is lovely today.",
		"we should visit the museum",
		"we should visit the museum later",
		"prices went up again this week",
		"my brother plays the violin",
		"the weather is lovely",
		"prices went up again",
	}

	cfg := DefaultBuilderConfig()
	b := NewBuilder(cfg, clockwork.NewFakeClock())
	var history []CaptionSegment
	for i := 0; i < 80; i++ {
		history, _ = feed(b, history, pool[i%len(pool)], float64(i))
	}
	require.NotEmpty(t, history)

	for i := range history {
		for j := i + 1; j < len(history); j++ {
			if history[j].Start-history[i].Start > cfg.TimeSegmentThreshold {
				continue
			}
			assert.LessOrEqual(t, textproc.Similarity(history[i].Text, history[j].Text), cfg.SimilarityThreshold,
				"%q vs %q", history[i].Text, history[j].Text)
		}
	}
}
