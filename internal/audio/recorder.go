// Package audio records fixed-length audio chunks separated by a mandatory
// gap and hands each completed chunk off for transcription.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotIdle is returned by Start when the recorder is already running.
	ErrNotIdle = errors.New("recorder is not idle")
	// ErrNotRunning is returned by Stop when the recorder is idle.
	ErrNotRunning = errors.New("recorder is not running")
)

// State is the recorder lifecycle state.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRecording
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Chunk is a slice of recorded audio. StartTime is seconds since the
// recorder started.
type Chunk struct {
	Data      []byte
	StartTime float64
	Duration  float64
	Format    Format
}

// ChunkMeta is what the recorder remembers about a chunk after handoff.
type ChunkMeta struct {
	StartTime float64
	Duration  float64
	Bytes     int
}

// Config controls chunk cadence.
type Config struct {
	ChunkDuration time.Duration
	ChunkGap      time.Duration
	// MinPartial is the shortest partial chunk Stop will return.
	MinPartial time.Duration
	// TickInterval drives the state machine when started with Start.
	TickInterval time.Duration
}

// DefaultConfig returns 8s chunks with a 3s gap.
func DefaultConfig() Config {
	return Config{
		ChunkDuration: 8 * time.Second,
		ChunkGap:      3 * time.Second,
		MinPartial:    time.Second,
		TickInterval:  250 * time.Millisecond,
	}
}

// Recorder is the chunk state machine. Transitions only happen in Tick and
// Stop; timers are scheduled deadlines compared against the clock.
type Recorder struct {
	config  Config
	clock   clockwork.Clock
	handoff func(Chunk)

	mu         sync.Mutex
	state      State
	format     Format
	startedAt  time.Time
	nextStart  time.Time
	chunkStart time.Time
	deadline   time.Time
	buffer     bytes.Buffer
	history    []ChunkMeta
	completed  int

	stream Stream
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder that passes completed chunks to handoff.
// handoff is called without the recorder lock held.
func NewRecorder(config Config, clock clockwork.Clock, handoff func(Chunk)) *Recorder {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		config:  config,
		clock:   clock,
		handoff: handoff,
	}
}

// Start opens the capture and begins the record/gap cycle.
func (r *Recorder) Start(ctx context.Context, capture Capture) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrNotIdle
	}
	r.mu.Unlock()

	stream, err := capture.Open(ctx)
	if err != nil {
		return fmt.Errorf("open audio capture: %w", err)
	}

	now := r.clock.Now()
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		_ = stream.Close()
		return ErrNotIdle
	}
	r.arm(now, stream.Format())
	r.stream = stream
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"chunk_duration": r.config.ChunkDuration,
		"chunk_gap":      r.config.ChunkGap,
		"sample_rate":    stream.Format().SampleRate,
		"channels":       stream.Format().Channels,
	}).Info("Audio recorder started")

	r.wg.Add(2)
	go r.pump(runCtx, stream)
	go r.run(runCtx)

	r.Tick(now)
	return nil
}

func (r *Recorder) arm(now time.Time, format Format) {
	r.state = StateArmed
	r.format = format
	r.startedAt = now
	r.nextStart = now
	r.buffer.Reset()
	r.history = nil
	r.completed = 0
}

func (r *Recorder) pump(ctx context.Context, stream Stream) {
	defer r.wg.Done()
	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				logrus.Info("Audio stream ended")
				return
			}
			r.Write(frame)
		}
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := r.clock.NewTicker(r.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			r.Tick(now)
		}
	}
}

// Write buffers PCM while a chunk is recording. Audio arriving while armed
// (the gap) is discarded.
func (r *Recorder) Write(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		r.buffer.Write(pcm)
	}
}

// Tick advances the state machine to now. A chunk completes on the first
// tick strictly after its deadline; the next chunk is scheduled gap after
// that deadline so cadence does not drift with tick granularity.
func (r *Recorder) Tick(now time.Time) {
	var ready []Chunk

	r.mu.Lock()
	for {
		switch {
		case r.state == StateArmed && !now.Before(r.nextStart):
			r.state = StateRecording
			r.chunkStart = r.nextStart
			r.deadline = r.chunkStart.Add(r.config.ChunkDuration)
			r.buffer.Reset()
			logrus.WithField("chunk_start", r.offset(r.chunkStart)).Debug("Chunk recording started")
			continue
		case r.state == StateRecording && now.After(r.deadline):
			r.state = StateDraining
			ready = append(ready, r.drain(r.config.ChunkDuration))
			r.nextStart = r.deadline.Add(r.config.ChunkGap)
			r.state = StateArmed
			continue
		}
		break
	}
	r.mu.Unlock()

	for _, chunk := range ready {
		logrus.WithFields(logrus.Fields{
			"chunk_start": chunk.StartTime,
			"duration":    chunk.Duration,
			"bytes":       len(chunk.Data),
		}).Debug("Chunk recorded")
		if r.handoff != nil {
			r.handoff(chunk)
		}
	}
}

// drain moves buffered audio into a chunk and clears the local buffer.
func (r *Recorder) drain(duration time.Duration) Chunk {
	data := make([]byte, r.buffer.Len())
	copy(data, r.buffer.Bytes())
	r.buffer.Reset()

	chunk := Chunk{
		Data:      data,
		StartTime: r.offset(r.chunkStart),
		Duration:  duration.Seconds(),
		Format:    r.format,
	}
	r.history = append(r.history, ChunkMeta{StartTime: chunk.StartTime, Duration: chunk.Duration, Bytes: len(data)})
	r.completed++
	return chunk
}

func (r *Recorder) offset(t time.Time) float64 {
	return t.Sub(r.startedAt).Seconds()
}

// Stop drains any partial chunk, releases the capture and returns to idle.
// The partial is returned when at least MinPartial was recorded.
func (r *Recorder) Stop() (*Chunk, error) {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return nil, ErrNotRunning
	}

	var partial *Chunk
	if r.state == StateRecording {
		r.state = StateDraining
		elapsed := r.clock.Now().Sub(r.chunkStart)
		if elapsed > r.config.ChunkDuration {
			elapsed = r.config.ChunkDuration
		}
		if elapsed >= r.config.MinPartial && r.buffer.Len() > 0 {
			c := r.drain(elapsed)
			partial = &c
		} else {
			r.buffer.Reset()
		}
	}

	stream, cancel := r.stream, r.cancel
	r.stream, r.cancel = nil, nil
	r.state = StateIdle
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			logrus.WithError(err).Warn("Error closing audio stream")
		}
	}
	r.wg.Wait()

	logrus.WithField("partial", partial != nil).Info("Audio recorder stopped")
	return partial, nil
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Completed returns how many full chunks were handed off since Start.
func (r *Recorder) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Buffered returns the number of PCM bytes held for the current chunk.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffer.Len()
}

// History returns metadata for recently completed chunks.
func (r *Recorder) History() []ChunkMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChunkMeta, len(r.history))
	copy(out, r.history)
	return out
}

// TrimHistory keeps only the last keep entries and returns how many were
// removed.
func (r *Recorder) TrimHistory(keep int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if keep < 0 || len(r.history) <= keep {
		return 0
	}
	removed := len(r.history) - keep
	kept := make([]ChunkMeta, keep)
	copy(kept, r.history[removed:])
	r.history = kept
	return removed
}
