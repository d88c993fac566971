// Package pipeline submits recorded audio chunks for transcription, one
// request at a time, and gates what comes back before it reaches a session.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/fankserver/caption-collector/pkg/transcriber"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// TaskStatus is the lifecycle of a transcription task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskAccepted TaskStatus = "accepted"
	TaskRejected TaskStatus = "rejected"
	TaskFailed   TaskStatus = "failed"
)

// Task tracks one submitted chunk. Audio is not kept.
type Task struct {
	ID          string     `json:"id"`
	StartTime   float64    `json:"startTime"`
	Duration    float64    `json:"duration"`
	SubmittedAt time.Time  `json:"submittedAt"`
	Status      TaskStatus `json:"status"`
	Text        string     `json:"text,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// ResultHandler receives every task that reaches a terminal status. It is
// the only way transcribed text leaves the queue.
type ResultHandler func(Task)

// job is a queued request; the chunk has already been encoded.
type job struct {
	task Task
	wav  []byte
}

// TranscriptionQueue manages the async processing queue
type TranscriptionQueue struct {
	queue       chan *job
	transcriber transcriber.Transcriber
	handler     ResultHandler
	clock       clockwork.Clock

	mu           sync.Mutex
	tasks        map[float64]*Task
	lastAccepted string

	metrics QueueMetrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	config QueueConfig
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	// QueueSize is how many chunks may wait behind the one in flight
	QueueSize      int
	ProcessTimeout time.Duration
	Language       string
	// MinSpeechRatio rejects chunks whose voiced share is below it without
	// a transcription request. Zero disables the gate.
	MinSpeechRatio float64
}

// DefaultQueueConfig returns default configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		QueueSize:      1,
		ProcessTimeout: 30 * time.Second,
	}
}

// QueueMetrics tracks queue performance
type QueueMetrics struct {
	ChunksQueued   int64 `json:"chunksQueued"`
	ChunksDropped  int64 `json:"chunksDropped"`
	ChunksAccepted int64 `json:"chunksAccepted"`
	ChunksRejected int64 `json:"chunksRejected"`
	ChunksFailed   int64 `json:"chunksFailed"`
}

// NewTranscriptionQueue creates a new transcription queue
func NewTranscriptionQueue(config QueueConfig, trans transcriber.Transcriber, clock clockwork.Clock, handler ResultHandler) *TranscriptionQueue {
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = DefaultQueueConfig().ProcessTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &TranscriptionQueue{
		queue:       make(chan *job, config.QueueSize),
		transcriber: trans,
		handler:     handler,
		clock:       clock,
		tasks:       make(map[float64]*Task),
		ctx:         ctx,
		cancel:      cancel,
		config:      config,
	}
}

// Start launches the single worker. Requests are serialized so at most one
// is outstanding.
func (q *TranscriptionQueue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	worker := NewWorker(q, q.transcriber, q.config)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		worker.Run(q.ctx)
	}()
	logrus.WithField("queue_size", q.config.QueueSize).Info("Transcription queue started")
}

// Stop cancels the in-flight request and drops anything queued. Results
// arriving afterwards are discarded; the worker is not awaited.
func (q *TranscriptionQueue) Stop() {
	q.cancel()
	logrus.Info("Transcription queue stopped")
}

// Wait blocks until the worker has exited. Only tests need it.
func (q *TranscriptionQueue) Wait() {
	q.wg.Wait()
}

// Submit encodes the chunk and enqueues it without blocking. The chunk's
// audio is not referenced after Submit returns.
func (q *TranscriptionQueue) Submit(chunk audio.Chunk) (Task, error) {
	task := Task{
		ID:          uuid.New().String(),
		StartTime:   chunk.StartTime,
		Duration:    chunk.Duration,
		SubmittedAt: q.clock.Now(),
		Status:      TaskPending,
	}
	if q.ctx.Err() != nil {
		return task, ErrQueueStopped
	}

	if q.config.MinSpeechRatio > 0 {
		if ratio := audio.SpeechRatio(chunk.Data, chunk.Format); ratio < q.config.MinSpeechRatio {
			logrus.WithFields(logrus.Fields{
				"chunk_start":  task.StartTime,
				"speech_ratio": ratio,
			}).Debug("Chunk has no speech, skipping transcription")
			task.Status = TaskRejected
			task.Reason = ReasonSilence
			q.record(task)
			q.finish(task)
			return task, nil
		}
	}

	wav, err := audio.EncodeWAV(chunk.Data, chunk.Format)
	if err != nil {
		task.Status = TaskFailed
		task.Reason = err.Error()
		q.record(task)
		atomic.AddInt64(&q.metrics.ChunksFailed, 1)
		return task, err
	}

	select {
	case q.queue <- &job{task: task, wav: wav}:
		q.record(task)
		atomic.AddInt64(&q.metrics.ChunksQueued, 1)
		logrus.WithFields(logrus.Fields{
			"task_id":     task.ID,
			"chunk_start": task.StartTime,
			"wav_bytes":   len(wav),
		}).Debug("Chunk queued for transcription")
		return task, nil
	default:
		task.Status = TaskFailed
		task.Reason = ErrQueueFull.Error()
		q.record(task)
		atomic.AddInt64(&q.metrics.ChunksDropped, 1)
		logrus.WithField("chunk_start", task.StartTime).Warn("Queue full, chunk dropped")
		return task, ErrQueueFull
	}
}

func (q *TranscriptionQueue) record(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := task
	q.tasks[task.StartTime] = &t
}

// finish stores the terminal task and hands it to the handler unless the
// queue was stopped meanwhile.
func (q *TranscriptionQueue) finish(task Task) {
	if q.ctx.Err() != nil {
		logrus.WithField("task_id", task.ID).Debug("Discarding result after stop")
		return
	}

	q.mu.Lock()
	if existing, ok := q.tasks[task.StartTime]; ok && existing.ID == task.ID {
		*existing = task
	}
	if task.Status == TaskAccepted {
		q.lastAccepted = task.Text
	}
	q.mu.Unlock()

	switch task.Status {
	case TaskAccepted:
		atomic.AddInt64(&q.metrics.ChunksAccepted, 1)
	case TaskRejected:
		atomic.AddInt64(&q.metrics.ChunksRejected, 1)
	case TaskFailed:
		atomic.AddInt64(&q.metrics.ChunksFailed, 1)
	}

	if q.handler != nil {
		q.handler(task)
	}
}

// previousTranscript is the last accepted text, used as prompt context.
func (q *TranscriptionQueue) previousTranscript() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastAccepted
}

// PurgeOlderThan removes tasks submitted more than age ago, whatever their
// status, and returns how many were removed.
func (q *TranscriptionQueue) PurgeOlderThan(age time.Duration) int {
	cutoff := q.clock.Now().Add(-age)
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for start, task := range q.tasks {
		if task.SubmittedAt.Before(cutoff) {
			delete(q.tasks, start)
			removed++
		}
	}
	return removed
}

// Tasks returns a snapshot of tracked tasks ordered by chunk start.
func (q *TranscriptionQueue) Tasks() []Task {
	q.mu.Lock()
	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// GetMetrics returns current queue metrics
func (q *TranscriptionQueue) GetMetrics() QueueMetrics {
	return QueueMetrics{
		ChunksQueued:   atomic.LoadInt64(&q.metrics.ChunksQueued),
		ChunksDropped:  atomic.LoadInt64(&q.metrics.ChunksDropped),
		ChunksAccepted: atomic.LoadInt64(&q.metrics.ChunksAccepted),
		ChunksRejected: atomic.LoadInt64(&q.metrics.ChunksRejected),
		ChunksFailed:   atomic.LoadInt64(&q.metrics.ChunksFailed),
	}
}

// GetQueueDepth returns how many chunks are waiting behind the one in flight
func (q *TranscriptionQueue) GetQueueDepth() int {
	return len(q.queue)
}
