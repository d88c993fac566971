package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/fankserver/caption-collector/pkg/transcriber"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, opts transcriber.TranscribeOptions) (*transcriber.TranscriptResult, error) {
	args := m.Called(ctx, audio, opts)
	if result := args.Get(0); result != nil {
		return result.(*transcriber.TranscriptResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTranscriber) IsReady() bool {
	return true
}

func (m *MockTranscriber) Close() error {
	return nil
}

func chunkAt(start float64) audio.Chunk {
	return audio.Chunk{
		Data:      make([]byte, 320),
		StartTime: start,
		Duration:  8,
		Format:    audio.DefaultFormat,
	}
}

func collect() (ResultHandler, chan Task) {
	ch := make(chan Task, 10)
	return func(t Task) { ch <- t }, ch
}

func waitTask(t *testing.T, ch chan Task) Task {
	t.Helper()
	select {
	case task := <-ch:
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task result")
		return Task{}
	}
}

func TestQueueAcceptsAndCarriesContext(t *testing.T) {
	mt := &MockTranscriber{}
	mt.On("Transcribe", mock.Anything, mock.Anything, transcriber.TranscribeOptions{Language: "en"}).
		Return(&transcriber.TranscriptResult{Text: "the first chunk of speech"}, nil).Once()
	mt.On("Transcribe", mock.Anything, mock.Anything, transcriber.TranscribeOptions{Language: "en", PreviousTranscript: "the first chunk of speech"}).
		Return(&transcriber.TranscriptResult{Text: "and the second chunk follows"}, nil).Once()

	handler, results := collect()
	config := DefaultQueueConfig()
	config.Language = "en"
	q := NewTranscriptionQueue(config, mt, clockwork.NewFakeClock(), handler)
	q.Start()
	defer q.Stop()

	task, err := q.Submit(chunkAt(0))
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.Status)

	first := waitTask(t, results)
	assert.Equal(t, TaskAccepted, first.Status)
	assert.Equal(t, "the first chunk of speech", first.Text)
	assert.Equal(t, 0.0, first.StartTime)

	_, err = q.Submit(chunkAt(11))
	require.NoError(t, err)
	second := waitTask(t, results)
	assert.Equal(t, TaskAccepted, second.Status)
	assert.Equal(t, 11.0, second.StartTime)

	tasks := q.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, TaskAccepted, tasks[0].Status)
	assert.Equal(t, int64(2), q.GetMetrics().ChunksAccepted)
	mt.AssertExpectations(t)
}

func TestQueueSendsWAV(t *testing.T) {
	mt := &MockTranscriber{}
	mt.On("Transcribe", mock.Anything, mock.MatchedBy(func(wav []byte) bool {
		return len(wav) > 44 && string(wav[0:4]) == "RIFF"
	}), mock.Anything).Return(&transcriber.TranscriptResult{Text: "valid words here"}, nil)

	handler, results := collect()
	q := NewTranscriptionQueue(DefaultQueueConfig(), mt, nil, handler)
	q.Start()
	defer q.Stop()

	_, err := q.Submit(chunkAt(0))
	require.NoError(t, err)
	assert.Equal(t, TaskAccepted, waitTask(t, results).Status)
}

func TestQueueRejectsLowQuality(t *testing.T) {
	mt := &MockTranscriber{}
	mt.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Return(&transcriber.TranscriptResult{Text: "the the the the"}, nil)

	handler, results := collect()
	q := NewTranscriptionQueue(DefaultQueueConfig(), mt, nil, handler)
	q.Start()
	defer q.Stop()

	_, err := q.Submit(chunkAt(0))
	require.NoError(t, err)
	task := waitTask(t, results)
	assert.Equal(t, TaskRejected, task.Status)
	assert.Equal(t, ReasonRepetition, task.Reason)
	assert.Empty(t, q.previousTranscript(), "rejected text is not used as context")
}

func TestQueueFailureIsNotRetried(t *testing.T) {
	mt := &MockTranscriber{}
	mt.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset"))

	handler, results := collect()
	q := NewTranscriptionQueue(DefaultQueueConfig(), mt, nil, handler)
	q.Start()
	defer q.Stop()

	_, err := q.Submit(chunkAt(0))
	require.NoError(t, err)
	task := waitTask(t, results)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Contains(t, task.Reason, "connection reset")

	select {
	case extra := <-results:
		t.Fatalf("unexpected second result %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	mt.AssertNumberOfCalls(t, "Transcribe", 1)
}

func TestQueueTimeout(t *testing.T) {
	mt := &MockTranscriber{}
	mt.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	handler, results := collect()
	config := DefaultQueueConfig()
	config.ProcessTimeout = 20 * time.Millisecond
	q := NewTranscriptionQueue(config, mt, nil, handler)
	q.Start()
	defer q.Stop()

	_, err := q.Submit(chunkAt(0))
	require.NoError(t, err)
	task := waitTask(t, results)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, ErrProcessTimeout.Error(), task.Reason)
}

func TestQueueFullDropsChunk(t *testing.T) {
	release := make(chan struct{})
	inFlight := make(chan struct{}, 1)
	mt := &MockTranscriber{}
	mt.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			inFlight <- struct{}{}
			<-release
		}).
		Return(&transcriber.TranscriptResult{Text: "some accepted speech"}, nil)

	handler, results := collect()
	q := NewTranscriptionQueue(DefaultQueueConfig(), mt, nil, handler)
	q.Start()
	defer q.Stop()

	_, err := q.Submit(chunkAt(0))
	require.NoError(t, err)
	<-inFlight

	_, err = q.Submit(chunkAt(11))
	require.NoError(t, err, "one chunk may wait behind the one in flight")
	assert.Equal(t, 1, q.GetQueueDepth())

	task, err := q.Submit(chunkAt(22))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, int64(1), q.GetMetrics().ChunksDropped)

	close(release)
	waitTask(t, results)
	waitTask(t, results)
}

func TestQueueStopAbandonsInFlight(t *testing.T) {
	inFlight := make(chan struct{}, 1)
	mt := &MockTranscriber{}
	mt.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			inFlight <- struct{}{}
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)

	handler, results := collect()
	q := NewTranscriptionQueue(DefaultQueueConfig(), mt, nil, handler)
	q.Start()

	_, err := q.Submit(chunkAt(0))
	require.NoError(t, err)
	<-inFlight

	q.Stop()
	q.Wait()

	select {
	case task := <-results:
		t.Fatalf("abandoned task reported %+v", task)
	default:
	}

	_, err = q.Submit(chunkAt(11))
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestPurgeOlderThan(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewTranscriptionQueue(DefaultQueueConfig(), &MockTranscriber{}, clock, nil)

	// not started: first submit waits in the queue, second is dropped
	_, err := q.Submit(chunkAt(0))
	require.NoError(t, err)
	clock.Advance(90 * time.Second)
	_, err = q.Submit(chunkAt(11))
	require.ErrorIs(t, err, ErrQueueFull)
	require.Len(t, q.Tasks(), 2)

	clock.Advance(60 * time.Second)
	assert.Equal(t, 1, q.PurgeOlderThan(2*time.Minute))
	tasks := q.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 11.0, tasks[0].StartTime)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, q.PurgeOlderThan(2*time.Minute))
	assert.Empty(t, q.Tasks())
}

func TestQueueSkipsSilentChunks(t *testing.T) {
	mt := &MockTranscriber{}
	handler, results := collect()
	config := DefaultQueueConfig()
	config.MinSpeechRatio = 0.1
	q := NewTranscriptionQueue(config, mt, clockwork.NewFakeClock(), handler)
	q.Start()
	defer q.Stop()

	silent := chunkAt(0)
	silent.Data = make([]byte, audio.DefaultFormat.BytesPerSecond())
	task, err := q.Submit(silent)
	require.NoError(t, err)
	assert.Equal(t, TaskRejected, task.Status)
	assert.Equal(t, ReasonSilence, task.Reason)

	got := waitTask(t, results)
	assert.Equal(t, ReasonSilence, got.Reason)
	assert.Equal(t, int64(1), q.GetMetrics().ChunksRejected)
	assert.Zero(t, q.GetMetrics().ChunksQueued)
	mt.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
}
