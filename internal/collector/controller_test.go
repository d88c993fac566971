package collector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/fankserver/caption-collector/internal/caption"
	"github.com/fankserver/caption-collector/internal/feedback"
	"github.com/fankserver/caption-collector/internal/segment"
	"github.com/fankserver/caption-collector/internal/session"
	"github.com/fankserver/caption-collector/pkg/transcriber"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	frames chan []byte
}

func (s *fakeStream) Format() audio.Format  { return audio.DefaultFormat }
func (s *fakeStream) Frames() <-chan []byte { return s.frames }
func (s *fakeStream) Close() error          { return nil }

type fakeCapture struct {
	stream *fakeStream
	err    error
}

func (c *fakeCapture) Open(context.Context) (audio.Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

func (c *fakeCapture) GetStatus() map[string]interface{} {
	return map[string]interface{}{"inVoice": true}
}

type unreadyTranscriber struct{ *transcriber.MockTranscriber }

func (unreadyTranscriber) IsReady() bool { return false }

func testConfig() Config {
	config := DefaultConfig()
	config.Guard.Interval = 0
	config.Guard.SessionCeiling = 0
	return config
}

type fixture struct {
	clock   *clockwork.FakeClock
	probe   *caption.StaticProbe
	capture *fakeCapture
	ctrl    *Controller
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clockwork.NewFakeClock(),
		probe:   caption.NewStaticProbe(),
		capture: &fakeCapture{stream: &fakeStream{frames: make(chan []byte)}},
	}
	f.ctrl = New(config, Dependencies{
		Probes:      func(context.Context) (caption.Probe, error) { return f.probe, nil },
		Captures:    func(context.Context) (audio.Capture, error) { return f.capture, nil },
		Transcriber: &transcriber.MockTranscriber{},
		Sessions:    session.NewManager(t.TempDir()),
		Clock:       f.clock,
	})
	t.Cleanup(f.ctrl.Close)
	return f
}

// tick advances one sampler interval and waits until the sampler has
// consumed it.
func (f *fixture) tick(t *testing.T, want int) {
	t.Helper()
	f.clock.Advance(caption.DefaultSamplerConfig().Interval)
	assert.Eventually(t, func() bool {
		return f.ctrl.Status().SegmentCount == want
	}, time.Second, 5*time.Millisecond)
}

func TestStartRejectsUnknownMode(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.ctrl.Start(context.Background(), session.Mode("video"), Options{})
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.False(t, f.ctrl.Status().IsActive)
}

func TestStopWithoutSession(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.ctrl.Stop()
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCaptionSessionLifecycle(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	status, err := f.ctrl.Start(ctx, session.ModeCaptionSampling, Options{})
	require.NoError(t, err)
	assert.True(t, status.IsActive)
	assert.Equal(t, session.ModeCaptionSampling, status.Mode)
	assert.NotEmpty(t, status.SessionID)

	_, err = f.ctrl.Start(ctx, session.ModeCaptionSampling, Options{})
	assert.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	f.probe.Set("Welcome to the show.", 1)
	f.tick(t, 1)
	f.probe.Set("Welcome to the show. Today we talk about rivers.", 3)
	f.tick(t, 2)

	result, err := f.ctrl.Stop()
	require.NoError(t, err)
	assert.Equal(t, status.SessionID, result.SessionID)
	assert.Equal(t, session.StopRequested, result.Reason)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "Welcome to the show.", result.Segments[0].Text)
	assert.Equal(t, "Today we talk about rivers.", result.Segments[1].Text)
	assert.Equal(t, segment.SourceManual, result.Segments[1].SourceKind)
	assert.NotEmpty(t, result.Consolidated)
	assert.False(t, f.ctrl.Status().IsActive)

	stored, err := f.ctrl.Sessions().GetSession(result.SessionID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive())
	assert.Equal(t, 2, stored.Len())

	_, err = f.ctrl.Stop()
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCaptionUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name:  "check_fails",
			setup: func(f *fixture) { f.probe.FailCheck(caption.ErrNoCaptionSurface) },
		},
		{
			name: "factory_fails",
			setup: func(f *fixture) {
				f.ctrl.deps.Probes = func(context.Context) (caption.Probe, error) {
					return nil, errors.New("no browser")
				}
			},
		},
		{
			name:  "no_factory",
			setup: func(f *fixture) { f.ctrl.deps.Probes = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			tt.setup(f)
			_, err := f.ctrl.Start(context.Background(), session.ModeCaptionSampling, Options{})
			assert.ErrorIs(t, err, ErrCaptionUnavailable)
			assert.False(t, f.ctrl.Status().IsActive)

			// the slot is free again
			f.ctrl.deps.Probes = func(context.Context) (caption.Probe, error) { return caption.NewStaticProbe(), nil }
			_, err = f.ctrl.Start(context.Background(), session.ModeCaptionSampling, Options{})
			assert.NoError(t, err)
		})
	}
}

func TestAudioUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name:  "capture_fails",
			setup: func(f *fixture) { f.capture.err = errors.New("device busy") },
		},
		{
			name:  "transcriber_not_ready",
			setup: func(f *fixture) { f.ctrl.deps.Transcriber = unreadyTranscriber{&transcriber.MockTranscriber{}} },
		},
		{
			name:  "no_transcriber",
			setup: func(f *fixture) { f.ctrl.deps.Transcriber = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			tt.setup(f)
			_, err := f.ctrl.Start(context.Background(), session.ModeAudioChunking, Options{})
			assert.ErrorIs(t, err, ErrAudioUnavailable)
			assert.False(t, f.ctrl.Status().IsActive)
		})
	}
}

func TestAudioSessionTranscribesChunks(t *testing.T) {
	config := testConfig()
	config.Recorder.ChunkDuration = 2 * time.Second
	config.Recorder.ChunkGap = time.Second
	f := newFixture(t, config)
	ctx := context.Background()

	status, err := f.ctrl.Start(ctx, session.ModeAudioChunking, Options{LanguageHint: "en"})
	require.NoError(t, err)
	assert.Equal(t, "recording", status.RecorderState)
	require.NotNil(t, status.Transcription)
	assert.Equal(t, true, status.Capture["inVoice"])
	assert.Zero(t, status.TrackedTasks)

	f.capture.stream.frames <- make([]byte, 640)
	f.capture.stream.frames <- make([]byte, 640)

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	assert.Eventually(t, func() bool {
		f.clock.Advance(250 * time.Millisecond)
		return f.ctrl.Status().SegmentCount >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.ctrl.Status().TrackedTasks, 1)
	assert.Zero(t, f.ctrl.Status().QueueDepth)

	result, err := f.ctrl.Stop()
	require.NoError(t, err)
	require.NotEmpty(t, result.Segments)
	first := result.Segments[0]
	assert.Equal(t, segment.SourceTranscribed, first.SourceKind)
	assert.True(t, strings.HasPrefix(first.Text, "mock transcript"))
	assert.Equal(t, 0.0, first.Start)
	assert.Equal(t, 2.0, first.Duration)
}

func TestSafetyStopStoresResult(t *testing.T) {
	config := testConfig()
	config.Guard.SessionCeiling = 120 * time.Second
	f := newFixture(t, config)
	bus := feedback.NewEventBus(16)
	defer bus.Stop()
	f.ctrl.deps.Events = bus

	var mu sync.Mutex
	var seen []feedback.EventType
	bus.SubscribeAll(func(e feedback.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
	})

	ctx := context.Background()
	status, err := f.ctrl.Start(ctx, session.ModeCaptionSampling, Options{})
	require.NoError(t, err)

	// sampler ticker and safety timer
	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))
	f.probe.Set("Something worth keeping.", 1)
	f.tick(t, 1)

	f.clock.Advance(120 * time.Second)
	assert.Eventually(t, func() bool {
		return !f.ctrl.Status().IsActive
	}, time.Second, 5*time.Millisecond)

	var result Result
	assert.Eventually(t, func() bool {
		r, err := f.ctrl.Stop()
		if err != nil {
			return false
		}
		result = r
		return true
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, status.SessionID, result.SessionID)
	assert.Equal(t, session.StopSafety, result.Reason)
	assert.Len(t, result.Segments, 1)

	// the stored result is handed out once
	_, err = f.ctrl.Stop()
	assert.ErrorIs(t, err, ErrNotActive)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == feedback.EventSessionSafetyStop
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Contains(t, seen, feedback.EventSessionStarted)
	assert.Contains(t, seen, feedback.EventSegmentAdded)
	mu.Unlock()
}

func TestOptionsOverrideThresholds(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.ctrl.Start(context.Background(), session.ModeCaptionSampling, Options{
		TimeSegmentThreshold:   4,
		ChunkDurationThreshold: 20,
	})
	require.NoError(t, err)

	f.ctrl.mu.Lock()
	r := f.ctrl.active
	f.ctrl.mu.Unlock()
	require.NotNil(t, r)
	assert.Equal(t, 4.0, r.builder.Config().TimeSegmentThreshold)
	assert.Equal(t, 20.0, r.builder.Config().ChunkDurationThreshold)
}
