package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/fankserver/caption-collector/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned when the queue is at capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueStopped is returned when the queue has been stopped
	ErrQueueStopped = errors.New("queue has been stopped")

	// ErrProcessTimeout is returned when processing exceeds timeout
	ErrProcessTimeout = errors.New("processing timeout exceeded")
)

// Worker processes queued chunks one at a time
type Worker struct {
	queue       *TranscriptionQueue
	transcriber transcriber.Transcriber
	config      QueueConfig
	logger      *logrus.Entry
}

// NewWorker creates a new worker
func NewWorker(queue *TranscriptionQueue, trans transcriber.Transcriber, config QueueConfig) *Worker {
	return &Worker{
		queue:       queue,
		transcriber: trans,
		config:      config,
		logger:      logrus.WithField("component", "transcription_worker"),
	}
}

// Run starts the worker processing loop
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("Worker started")
	defer w.logger.Debug("Worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.queue.queue:
			w.process(ctx, j)
		}
	}
}

// process makes a single attempt. Failures are final.
func (w *Worker) process(parent context.Context, j *job) {
	startTime := time.Now()
	task := j.task

	if !w.transcriber.IsReady() {
		task.Status = TaskFailed
		task.Reason = transcriber.ErrNotReady.Error()
		w.queue.finish(task)
		return
	}

	ctx, cancel := context.WithTimeout(parent, w.config.ProcessTimeout)
	defer cancel()

	result, err := w.transcriber.Transcribe(ctx, j.wav, transcriber.TranscribeOptions{
		PreviousTranscript: w.queue.previousTranscript(),
		Language:           w.config.Language,
	})
	j.wav = nil

	if err != nil {
		if parent.Err() != nil {
			// stopped; abandon
			return
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrProcessTimeout
		}
		task.Status = TaskFailed
		task.Reason = err.Error()
		w.logger.WithError(err).WithFields(logrus.Fields{
			"task_id":      task.ID,
			"chunk_start":  task.StartTime,
			"process_time": time.Since(startTime),
		}).Warn("Transcription failed, chunk dropped")
		w.queue.finish(task)
		return
	}

	task.Text = result.Text
	if reason := CheckQuality(result.Text); reason != "" {
		task.Status = TaskRejected
		task.Reason = reason
		w.logger.WithFields(logrus.Fields{
			"task_id":     task.ID,
			"chunk_start": task.StartTime,
			"reason":      reason,
			"text":        result.Text,
		}).Debug("Transcript rejected by quality gate")
		w.queue.finish(task)
		return
	}

	task.Status = TaskAccepted
	w.logger.WithFields(logrus.Fields{
		"task_id":      task.ID,
		"chunk_start":  task.StartTime,
		"process_time": time.Since(startTime),
		"text_length":  len(result.Text),
	}).Info("Chunk transcribed successfully")
	w.queue.finish(task)
}
