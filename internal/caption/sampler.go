package caption

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fankserver/caption-collector/internal/segment"
	"github.com/fankserver/caption-collector/internal/textproc"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Sink receives cleaned caption text. The collector backs it with the
// session and its segment builder.
type Sink interface {
	Append(text string, timestamp float64, kind segment.SourceKind) segment.Decision
	SetAutoGenerated(auto bool)
}

// StreamState is what the sampler remembers between reads.
type StreamState struct {
	LastObservedText      string  `json:"lastObservedText"`
	LastObservedTimestamp float64 `json:"lastObservedTimestamp"`
	LastSegmentStart      float64 `json:"lastSegmentStart"`
}

// SamplerConfig controls the sampling loop.
type SamplerConfig struct {
	Interval time.Duration
	// MinLength in runes; shorter reads are ignored.
	MinLength int
	// ClassifyWindow is how many distinct recent reads feed the classifier.
	ClassifyWindow int
	// SeekThreshold in seconds; a larger playback jump resets the stream.
	SeekThreshold float64
}

// DefaultSamplerConfig samples every 1.5s.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval:       1500 * time.Millisecond,
		MinLength:      3,
		ClassifyWindow: 6,
		SeekThreshold:  10,
	}
}

// Sampler polls a Probe and feeds the delta of each read through the
// repetition filter into a Sink. Streams that look auto-generated are
// routed through a sentence Reconstructor instead.
type Sampler struct {
	probe  Probe
	sink   Sink
	clock  clockwork.Clock
	config SamplerConfig

	mu            sync.Mutex
	state         StreamState
	hasState      bool
	reads         []string
	class         textproc.StreamClass
	autoGenerated bool
	recon         *textproc.Reconstructor
	failures      int
}

// NewSampler creates a sampler. A nil clock uses the real clock.
func NewSampler(probe Probe, sink Sink, clock clockwork.Clock, config SamplerConfig) *Sampler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSamplerConfig().Interval
	}
	if config.ClassifyWindow <= 0 {
		config.ClassifyWindow = DefaultSamplerConfig().ClassifyWindow
	}
	return &Sampler{
		probe:  probe,
		sink:   sink,
		clock:  clock,
		config: config,
		recon:  textproc.NewReconstructor(),
	}
}

// Run samples on every tick until ctx is cancelled. Probe errors are
// logged and the loop continues.
func (s *Sampler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	logrus.WithField("interval", s.config.Interval).Info("Caption sampler started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Caption sampler stopped")
			return
		case <-ticker.Chan():
			if err := s.Step(ctx); err != nil && ctx.Err() == nil {
				s.mu.Lock()
				s.failures++
				failures := s.failures
				s.mu.Unlock()
				logrus.WithError(err).WithField("consecutive_failures", failures).Debug("Caption sample failed")
			}
		}
	}
}

// Step performs one sample.
func (s *Sampler) Step(ctx context.Context) error {
	now := s.clock.Now()

	s.mu.Lock()
	if s.autoGenerated {
		s.emit(s.recon.Expire(now), segment.SourceReconstructed)
	}
	s.mu.Unlock()

	text, ok, err := s.probe.SampleCaptionText(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	playback, err := s.probe.CurrentPlaybackTime(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < s.config.MinLength {
		return nil
	}
	if s.hasState && math.Abs(playback-s.state.LastObservedTimestamp) > s.config.SeekThreshold {
		logrus.WithFields(logrus.Fields{
			"from": s.state.LastObservedTimestamp,
			"to":   playback,
		}).Debug("Playback jump, resetting stream state")
		s.resetLocked()
	}
	if s.hasState && text == s.state.LastObservedText {
		return nil
	}

	s.classify(text)

	if s.autoGenerated {
		s.emit(s.recon.Feed(text, playback, now), segment.SourceReconstructed)
	} else {
		delta := strings.TrimSpace(textproc.Extract(s.state.LastObservedText, text))
		if delta != "" {
			cleaned := textproc.RemoveRepetitions(delta)
			if s.sink.Append(cleaned, playback, segment.SourceManual).Accepted() {
				s.state.LastSegmentStart = playback
			}
		}
	}

	s.state.LastObservedText = text
	s.state.LastObservedTimestamp = playback
	s.hasState = true
	return nil
}

// classify updates the stream verdict with a new read and switches paths
// when it flips.
func (s *Sampler) classify(text string) {
	s.reads = append(s.reads, text)
	if len(s.reads) > s.config.ClassifyWindow {
		s.reads = s.reads[len(s.reads)-s.config.ClassifyWindow:]
	}
	s.class = textproc.ClassifyStream(s.reads)
	if s.class.AutoGenerated == s.autoGenerated {
		return
	}

	logrus.WithFields(logrus.Fields{
		"auto_generated": s.class.AutoGenerated,
		"score":          s.class.Score,
	}).Info("Caption stream classification changed")

	if s.class.AutoGenerated {
		s.recon.Reset()
		s.recon.Prime(s.state.LastObservedText)
	} else {
		s.emit(s.recon.Flush(), segment.SourceReconstructed)
		s.recon.Reset()
	}
	s.autoGenerated = s.class.AutoGenerated
	s.sink.SetAutoGenerated(s.autoGenerated)
}

func (s *Sampler) emit(emissions []textproc.Emission, kind segment.SourceKind) {
	for _, e := range emissions {
		cleaned := textproc.RemoveRepetitions(e.Text)
		if s.sink.Append(cleaned, e.Start, kind).Accepted() {
			s.state.LastSegmentStart = e.Start
		}
	}
}

func (s *Sampler) resetLocked() {
	s.emit(s.recon.Flush(), segment.SourceReconstructed)
	s.recon.Reset()
	s.state = StreamState{}
	s.hasState = false
}

// Flush releases any text held by the reconstructor. Call it on stop.
func (s *Sampler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(s.recon.Flush(), segment.SourceReconstructed)
}

// Reset forgets the stream, as after an explicit restart.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.reads = nil
	s.class = textproc.StreamClass{}
	if s.autoGenerated {
		s.autoGenerated = false
		s.sink.SetAutoGenerated(false)
	}
}

// State returns the current stream state.
func (s *Sampler) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Class returns the latest stream classification.
func (s *Sampler) Class() textproc.StreamClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.class
}
