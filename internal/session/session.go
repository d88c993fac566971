// Package session holds the collection session aggregate: the ordered list
// of caption segments every collection mode appends to.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/fankserver/caption-collector/internal/segment"
)

// Mode selects how a session collects text.
type Mode string

const (
	// ModeCaptionSampling polls a caption surface.
	ModeCaptionSampling Mode = "caption_sampling"
	// ModeAudioChunking records audio chunks and transcribes them.
	ModeAudioChunking Mode = "audio_chunking"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeCaptionSampling || m == ModeAudioChunking
}

// ParseMode accepts a mode name or its short form ("caption", "audio").
// Unknown names are returned as is and fail Valid.
func ParseMode(name string) Mode {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "caption", "captions", string(ModeCaptionSampling):
		return ModeCaptionSampling
	case "audio", string(ModeAudioChunking):
		return ModeAudioChunking
	default:
		return Mode(name)
	}
}

// StopReason says why a session ended.
type StopReason string

const (
	// StopRequested is a stop asked for by the host.
	StopRequested StopReason = "requested"
	// StopSafety is a stop forced by the session age ceiling.
	StopSafety StopReason = "safety_stop"
)

// Session is a single collection run. Segments only enter through Admit and
// only leave through Trim.
type Session struct {
	ID        string
	Mode      Mode
	StartedAt time.Time

	mu          sync.RWMutex
	segments    []segment.CaptionSegment
	maxSegments int
	endedAt     *time.Time
	isActive    bool
	stopReason  StopReason
	rejected    int
	trimmed     int
}

func newSession(id string, mode Mode, maxSegments int, startedAt time.Time) *Session {
	return &Session{
		ID:          id,
		Mode:        mode,
		StartedAt:   startedAt,
		maxSegments: maxSegments,
		isActive:    true,
	}
}

// Admit runs a candidate through the builder against the current history
// and appends it when accepted. Build and append happen under one lock.
func (s *Session) Admit(b *segment.Builder, text string, timestamp, duration float64, kind segment.SourceKind) (segment.CaptionSegment, segment.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isActive {
		return segment.CaptionSegment{}, segment.DecisionRejected
	}
	seg, decision := b.Build(text, timestamp, duration, kind, s.segments)
	if !decision.Accepted() {
		if decision == segment.DecisionRejected {
			s.rejected++
		}
		return seg, decision
	}
	s.segments = append(s.segments, seg)
	if s.maxSegments > 0 && len(s.segments) > s.maxSegments {
		s.trimLocked(s.maxSegments)
	}
	return seg, decision
}

// Trim caps the segment list at max. When exceeded the oldest half is
// dropped. It returns how many segments were removed.
func (s *Session) Trim(max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trimLocked(max)
}

func (s *Session) trimLocked(max int) int {
	n := len(s.segments)
	if max <= 0 || n <= max {
		return 0
	}
	keep := min(max, n-n/2)
	kept := make([]segment.CaptionSegment, keep)
	copy(kept, s.segments[n-keep:])
	s.segments = kept
	s.trimmed += n - keep
	return n - keep
}

// Segments returns a copy of the kept segments in append order.
func (s *Session) Segments() []segment.CaptionSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]segment.CaptionSegment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Len returns the number of kept segments.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// IsActive reports whether the session still accepts segments.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isActive
}

// End marks the session inactive. Only the first call has effect; it
// reports whether this call ended the session.
func (s *Session) End(at time.Time, reason StopReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isActive {
		return false
	}
	s.isActive = false
	s.endedAt = &at
	s.stopReason = reason
	return true
}

// Elapsed returns the session duration, up to now while active.
func (s *Session) Elapsed(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endedAt != nil {
		return s.endedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Counters returns how many candidates were rejected as duplicates and how
// many segments were trimmed away.
func (s *Session) Counters() (rejected, trimmed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rejected, s.trimmed
}

// Summary returns the listing view of the session.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:           s.ID,
		Mode:         s.Mode,
		StartedAt:    s.StartedAt,
		EndedAt:      s.endedAt,
		IsActive:     s.isActive,
		StopReason:   s.stopReason,
		SegmentCount: len(s.segments),
	}
}
