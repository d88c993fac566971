package segment

import (
	"math"
	"strings"
	"sync"

	"github.com/fankserver/caption-collector/internal/textproc"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Decision describes what Build did with a candidate.
type Decision int

const (
	// DecisionAppended means a segment was emitted in the current chunk.
	DecisionAppended Decision = iota
	// DecisionNewGroup means a time gap opened a new group.
	DecisionNewGroup
	// DecisionNewChunk means the chunk window rolled over.
	DecisionNewChunk
	// DecisionRejected means the candidate duplicated recent history.
	DecisionRejected
	// DecisionEmpty means the candidate had no text.
	DecisionEmpty
)

func (d Decision) String() string {
	switch d {
	case DecisionAppended:
		return "appended"
	case DecisionNewGroup:
		return "new_group"
	case DecisionNewChunk:
		return "new_chunk"
	case DecisionRejected:
		return "rejected"
	case DecisionEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Accepted reports whether a segment was emitted.
func (d Decision) Accepted() bool {
	return d == DecisionAppended || d == DecisionNewGroup || d == DecisionNewChunk
}

// BuilderConfig holds the thresholds of the segment builder.
type BuilderConfig struct {
	// TimeSegmentThreshold is the timestamp jump, in seconds, treated as a seek.
	TimeSegmentThreshold float64
	// ChunkDurationThreshold closes a grouping chunk after this many seconds.
	ChunkDurationThreshold float64
	// AutoChunkDurationThreshold replaces ChunkDurationThreshold for
	// auto-generated streams.
	AutoChunkDurationThreshold float64
	// DefaultDuration is the estimated length of a segment without its own.
	DefaultDuration float64
	// SimilarityThreshold rejects candidates more similar than this to history.
	SimilarityThreshold float64
	// SimilarityWindow is how many recent segments are always compared.
	SimilarityWindow int
	// SubstringWindow is how many recent segments are checked for containment.
	SubstringWindow int
	// LookBack bounds the scan for segments inside the time threshold.
	LookBack int
}

// DefaultBuilderConfig returns the builder defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		TimeSegmentThreshold:       10,
		ChunkDurationThreshold:     45,
		AutoChunkDurationThreshold: 60,
		DefaultDuration:            3,
		SimilarityThreshold:        0.7,
		SimilarityWindow:           5,
		SubstringWindow:            3,
		LookBack:                   50,
	}
}

// Builder turns cleaned text and a timestamp into CaptionSegments. It gates
// duplicates against recent history, detects seeks and tracks the grouping
// chunk. History itself is owned by the caller.
type Builder struct {
	mu     sync.Mutex
	config BuilderConfig
	clock  clockwork.Clock

	autoGenerated bool
	hasLast       bool
	lastCollected float64
	chunkStart    float64
	group         int
	chunk         int
}

// NewBuilder creates a builder. A nil clock uses the real clock.
func NewBuilder(config BuilderConfig, clock clockwork.Clock) *Builder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Builder{config: config, clock: clock}
}

// SetAutoGenerated widens the chunk window for auto-generated streams.
func (b *Builder) SetAutoGenerated(auto bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoGenerated = auto
}

// Config returns the thresholds in use.
func (b *Builder) Config() BuilderConfig {
	return b.config
}

// Reset forgets timing state, as after an explicit restart.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasLast = false
	b.lastCollected = 0
	b.chunkStart = 0
	b.chunk = 0
}

// Build evaluates a candidate. duration <= 0 uses the default estimate.
// history is the session's kept segments, oldest first. On acceptance the
// returned segment must be appended to history by the caller.
func (b *Builder) Build(text string, timestamp, duration float64, kind SourceKind, history []CaptionSegment) (CaptionSegment, Decision) {
	text = strings.TrimSpace(text)
	if text == "" {
		return CaptionSegment{}, DecisionEmpty
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.duplicates(text, timestamp, history) {
		logrus.WithFields(logrus.Fields{
			"timestamp": timestamp,
			"text":      text,
		}).Debug("Segment rejected as duplicate of recent history")
		return CaptionSegment{}, DecisionRejected
	}

	decision := DecisionAppended
	switch {
	case !b.hasLast:
		b.chunkStart = timestamp
	case math.Abs(timestamp-b.lastCollected) > b.config.TimeSegmentThreshold:
		b.group++
		b.chunk = 0
		b.chunkStart = timestamp
		decision = DecisionNewGroup
	case timestamp-b.chunkStart > b.chunkThreshold():
		b.chunk++
		b.chunkStart = timestamp
		decision = DecisionNewChunk
	}

	if duration <= 0 {
		duration = b.config.DefaultDuration
	}
	seg := CaptionSegment{
		Start:      timestamp,
		End:        timestamp + duration,
		Duration:   duration,
		Text:       text,
		SourceKind: kind,
		CreatedAt:  b.clock.Now(),
		Group:      b.group,
		Chunk:      b.chunk,
	}
	b.hasLast = true
	b.lastCollected = timestamp
	return seg, decision
}

func (b *Builder) chunkThreshold() float64 {
	if b.autoGenerated && b.config.AutoChunkDurationThreshold > 0 {
		return b.config.AutoChunkDurationThreshold
	}
	return b.config.ChunkDurationThreshold
}

// duplicates applies the uniqueness gate: similarity against the last few
// segments and anything within the time threshold, containment against the
// last three.
func (b *Builder) duplicates(text string, timestamp float64, history []CaptionSegment) bool {
	norm := textproc.Normalize(text)
	n := len(history)
	for i := n - 1; i >= 0 && n-i <= b.config.LookBack; i-- {
		prev := history[i]
		recent := n-i <= b.config.SimilarityWindow
		nearby := math.Abs(prev.Start-timestamp) <= b.config.TimeSegmentThreshold
		if !recent && !nearby {
			continue
		}
		if textproc.Similarity(text, prev.Text) > b.config.SimilarityThreshold {
			return true
		}
		if n-i <= b.config.SubstringWindow {
			pn := textproc.Normalize(prev.Text)
			if pn != "" && norm != "" && (strings.Contains(pn, norm) || strings.Contains(norm, pn)) {
				return true
			}
		}
	}
	return false
}
