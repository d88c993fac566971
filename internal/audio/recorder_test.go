package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	format Format
	frames chan []byte
	closed bool
	mu     sync.Mutex
}

func (s *fakeStream) Format() Format        { return s.format }
func (s *fakeStream) Frames() <-chan []byte { return s.frames }
func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeCapture struct {
	stream *fakeStream
	err    error
}

func (c *fakeCapture) Open(context.Context) (Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{stream: &fakeStream{format: DefaultFormat, frames: make(chan []byte)}}
}

type chunkSink struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (s *chunkSink) handoff(c Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
}

func (s *chunkSink) all() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks...)
}

func oneSecond() []byte {
	return make([]byte, DefaultFormat.BytesPerSecond())
}

func TestRecorderCadence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &chunkSink{}
	config := DefaultConfig()
	config.ChunkDuration = 8 * time.Second
	config.ChunkGap = 3 * time.Second
	r := NewRecorder(config, clock, sink.handoff)

	t0 := clock.Now()
	require.NoError(t, r.Start(context.Background(), newFakeCapture()))
	defer r.Stop()

	for s := 0; s <= 30; s++ {
		r.Tick(t0.Add(time.Duration(s) * time.Second))
		r.Write(oneSecond())
	}

	chunks := sink.all()
	require.Len(t, chunks, 2, "8+3+8+3 leaves the third chunk recording at 30s")
	assert.Equal(t, 0.0, chunks[0].StartTime)
	assert.Equal(t, 11.0, chunks[1].StartTime)
	for _, c := range chunks {
		assert.Equal(t, 8.0, c.Duration)
		assert.Equal(t, DefaultFormat, c.Format)
		assert.Len(t, c.Data, 9*DefaultFormat.BytesPerSecond())
	}
	assert.Equal(t, StateRecording, r.State())
	assert.Equal(t, 2, r.Completed())

	history := r.History()
	require.Len(t, history, 2)
	assert.Equal(t, 11.0, history[1].StartTime)
}

func TestRecorderDiscardsAudioDuringGap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &chunkSink{}
	config := DefaultConfig()
	config.ChunkDuration = 2 * time.Second
	config.ChunkGap = 2 * time.Second
	r := NewRecorder(config, clock, sink.handoff)

	t0 := clock.Now()
	require.NoError(t, r.Start(context.Background(), newFakeCapture()))
	defer r.Stop()

	r.Tick(t0.Add(3 * time.Second))
	assert.Equal(t, StateArmed, r.State())
	r.Write(oneSecond())
	assert.Zero(t, r.Buffered(), "audio in the gap is dropped")

	r.Tick(t0.Add(4 * time.Second))
	assert.Equal(t, StateRecording, r.State())
	r.Write(oneSecond())
	assert.Equal(t, DefaultFormat.BytesPerSecond(), r.Buffered())
}

func TestRecorderLateTickDoesNotDrift(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &chunkSink{}
	r := NewRecorder(DefaultConfig(), clock, sink.handoff)

	t0 := clock.Now()
	require.NoError(t, r.Start(context.Background(), newFakeCapture()))
	defer r.Stop()

	// one very late tick completes the first chunk and starts the next on schedule
	r.Tick(t0.Add(12 * time.Second))

	chunks := sink.all()
	require.Len(t, chunks, 1)
	assert.Equal(t, 0.0, chunks[0].StartTime)
	assert.Equal(t, StateRecording, r.State())

	r.Tick(t0.Add(19*time.Second + time.Millisecond))
	chunks = sink.all()
	require.Len(t, chunks, 2)
	assert.Equal(t, 11.0, chunks[1].StartTime)
}

func TestRecorderStopDeliversPartial(t *testing.T) {
	tests := []struct {
		name        string
		elapsed     time.Duration
		wantPartial bool
	}{
		{name: "long_enough", elapsed: 5 * time.Second, wantPartial: true},
		{name: "too_short", elapsed: 500 * time.Millisecond, wantPartial: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			sink := &chunkSink{}
			capture := newFakeCapture()
			r := NewRecorder(DefaultConfig(), clock, sink.handoff)

			require.NoError(t, r.Start(context.Background(), capture))
			r.Write(oneSecond())
			clock.Advance(tt.elapsed)

			partial, err := r.Stop()
			require.NoError(t, err)
			assert.Equal(t, StateIdle, r.State())
			assert.True(t, capture.stream.closed)
			assert.Empty(t, sink.all(), "partials are returned, not handed off")

			if !tt.wantPartial {
				assert.Nil(t, partial)
				return
			}
			require.NotNil(t, partial)
			assert.Equal(t, 0.0, partial.StartTime)
			assert.InDelta(t, tt.elapsed.Seconds(), partial.Duration, 0.001)
			assert.Len(t, partial.Data, DefaultFormat.BytesPerSecond())
			assert.Zero(t, r.Buffered())
		})
	}
}

func TestRecorderLifecycleErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRecorder(DefaultConfig(), clock, nil)

	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)

	openErr := errors.New("permission denied")
	err = r.Start(context.Background(), &fakeCapture{err: openErr})
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, StateIdle, r.State())

	require.NoError(t, r.Start(context.Background(), newFakeCapture()))
	assert.ErrorIs(t, r.Start(context.Background(), newFakeCapture()), ErrNotIdle)

	_, err = r.Stop()
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background(), newFakeCapture()), "restart after stop")
	_, err = r.Stop()
	require.NoError(t, err)
}

func TestRecorderPumpsFrames(t *testing.T) {
	clock := clockwork.NewFakeClock()
	capture := newFakeCapture()
	r := NewRecorder(DefaultConfig(), clock, nil)
	require.NoError(t, r.Start(context.Background(), capture))
	defer r.Stop()

	capture.stream.frames <- make([]byte, 640)
	capture.stream.frames <- make([]byte, 640)

	assert.Eventually(t, func() bool { return r.Buffered() == 1280 }, time.Second, 5*time.Millisecond)
}

func TestTrimHistory(t *testing.T) {
	clock := clockwork.NewFakeClock()
	config := DefaultConfig()
	config.ChunkDuration = time.Second
	config.ChunkGap = time.Second
	r := NewRecorder(config, clock, nil)

	t0 := clock.Now()
	require.NoError(t, r.Start(context.Background(), newFakeCapture()))
	defer r.Stop()
	r.Tick(t0.Add(20 * time.Second))
	require.Len(t, r.History(), 10)

	assert.Equal(t, 8, r.TrimHistory(2))
	history := r.History()
	require.Len(t, history, 2)
	assert.Equal(t, 18.0, history[1].StartTime)
	assert.Zero(t, r.TrimHistory(2))
}
