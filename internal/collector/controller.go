// Package collector owns collection sessions: it starts caption sampling or
// audio chunking, funnels their output into one segment list and tears
// everything down on stop or when the safety ceiling fires.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/fankserver/caption-collector/internal/caption"
	"github.com/fankserver/caption-collector/internal/feedback"
	"github.com/fankserver/caption-collector/internal/guard"
	"github.com/fankserver/caption-collector/internal/pipeline"
	"github.com/fankserver/caption-collector/internal/segment"
	"github.com/fankserver/caption-collector/internal/session"
	"github.com/fankserver/caption-collector/pkg/transcriber"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ProbeFactory opens the caption capability for a new session.
type ProbeFactory func(ctx context.Context) (caption.Probe, error)

// CaptureFactory opens the audio capability for a new session.
type CaptureFactory func(ctx context.Context) (audio.Capture, error)

// Config holds the defaults every session starts from.
type Config struct {
	Sampler  caption.SamplerConfig
	Recorder audio.Config
	Builder  segment.BuilderConfig
	Queue    pipeline.QueueConfig
	Guard    guard.Config
}

// DefaultConfig returns the component defaults.
func DefaultConfig() Config {
	return Config{
		Sampler:  caption.DefaultSamplerConfig(),
		Recorder: audio.DefaultConfig(),
		Builder:  segment.DefaultBuilderConfig(),
		Queue:    pipeline.DefaultQueueConfig(),
		Guard:    guard.DefaultConfig(),
	}
}

// Dependencies are the external capabilities. Any of them may be nil, in
// which case the mode that needs it fails to start.
type Dependencies struct {
	Probes      ProbeFactory
	Captures    CaptureFactory
	Transcriber transcriber.Transcriber
	Sessions    *session.Manager
	Events      *feedback.EventBus
	Clock       clockwork.Clock
}

// Controller runs at most one collection session at a time.
type Controller struct {
	config Config
	deps   Dependencies
	clock  clockwork.Clock

	mu        sync.Mutex
	active    *run
	starting  bool
	unclaimed *Result
}

// run is everything owned by one active session.
type run struct {
	session  *session.Session
	builder  *segment.Builder
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sampler  *caption.Sampler
	recorder *audio.Recorder
	capture  audio.Capture
	queue    *pipeline.TranscriptionQueue
	guard    *guard.Guard
	closers  []func()
}

// New creates a controller.
func New(config Config, deps Dependencies) *Controller {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager("")
	}
	return &Controller{
		config: config,
		deps:   deps,
		clock:  deps.Clock,
	}
}

// Sessions returns the session manager.
func (c *Controller) Sessions() *session.Manager {
	return c.deps.Sessions
}

// Start begins a new session in mode.
func (c *Controller) Start(ctx context.Context, mode session.Mode, opts Options) (Status, error) {
	if !mode.Valid() {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	c.mu.Lock()
	if c.active != nil || c.starting {
		c.mu.Unlock()
		return Status{}, ErrAlreadyActive
	}
	// hold the slot while capabilities are opened
	c.starting = true
	c.unclaimed = nil
	c.mu.Unlock()

	r := &run{}
	err := c.begin(ctx, r, mode, opts)

	c.mu.Lock()
	c.starting = false
	if err == nil {
		c.active = r
	}
	c.mu.Unlock()
	if err != nil {
		return Status{}, err
	}

	c.publishSession(feedback.EventSessionStarted, r, "")
	logrus.WithFields(logrus.Fields{
		"session_id": r.session.ID,
		"mode":       mode,
	}).Info("Collection session started")
	return c.Status(), nil
}

func (c *Controller) begin(ctx context.Context, r *run, mode session.Mode, opts Options) error {
	builderConfig := c.config.Builder
	if opts.TimeSegmentThreshold > 0 {
		builderConfig.TimeSegmentThreshold = opts.TimeSegmentThreshold
	}
	if opts.ChunkDurationThreshold > 0 {
		builderConfig.ChunkDurationThreshold = opts.ChunkDurationThreshold
	}
	r.builder = segment.NewBuilder(builderConfig, c.clock)

	// sessions run detached from the request that started them
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	var err error
	switch mode {
	case session.ModeCaptionSampling:
		err = c.beginCaptions(runCtx, r, builderConfig)
	case session.ModeAudioChunking:
		err = c.beginAudio(runCtx, r, opts)
	}
	if err != nil {
		cancel()
		r.close()
		return err
	}

	r.guard = guard.New(c.config.Guard, c.clock, r.guardTargets(),
		func(result guard.SweepResult) { c.publishSweep(r, result) },
		func() { c.safetyStop(r) },
	)
	r.guard.Start(runCtx)

	switch {
	case r.sampler != nil:
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.sampler.Run(runCtx)
		}()
	case r.recorder != nil:
		r.queue.Start()
	}
	return nil
}

func (c *Controller) beginCaptions(ctx context.Context, r *run, builderConfig segment.BuilderConfig) error {
	if c.deps.Probes == nil {
		return fmt.Errorf("%w: no caption probe configured", ErrCaptionUnavailable)
	}
	probe, err := c.deps.Probes(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptionUnavailable, err)
	}
	if closer, ok := probe.(interface{ Close() }); ok {
		r.closers = append(r.closers, closer.Close)
	} else if closer, ok := probe.(interface{ Close() error }); ok {
		r.closers = append(r.closers, func() { _ = closer.Close() })
	}
	if err := probe.Check(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptionUnavailable, err)
	}

	r.session = c.deps.Sessions.CreateSession(session.ModeCaptionSampling, c.config.Guard.MaxSegments, c.clock.Now())
	samplerConfig := c.config.Sampler
	samplerConfig.SeekThreshold = builderConfig.TimeSegmentThreshold
	r.sampler = caption.NewSampler(probe, &sink{c: c, r: r}, c.clock, samplerConfig)
	return nil
}

func (c *Controller) beginAudio(ctx context.Context, r *run, opts Options) error {
	if c.deps.Captures == nil {
		return fmt.Errorf("%w: no audio capture configured", ErrAudioUnavailable)
	}
	if c.deps.Transcriber == nil || !c.deps.Transcriber.IsReady() {
		return fmt.Errorf("%w: %v", ErrAudioUnavailable, transcriber.ErrNotReady)
	}
	capture, err := c.deps.Captures(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	}
	r.capture = capture

	queueConfig := c.config.Queue
	if opts.LanguageHint != "" {
		queueConfig.Language = opts.LanguageHint
	}
	recorderConfig := c.config.Recorder
	if opts.ChunkDuration > 0 {
		recorderConfig.ChunkDuration = opts.ChunkDuration
	}
	if opts.ChunkGap > 0 {
		recorderConfig.ChunkGap = opts.ChunkGap
	}

	r.session = c.deps.Sessions.CreateSession(session.ModeAudioChunking, c.config.Guard.MaxSegments, c.clock.Now())
	r.queue = pipeline.NewTranscriptionQueue(queueConfig, c.deps.Transcriber, c.clock, func(task pipeline.Task) {
		c.handleTranscription(r, task)
	})
	r.recorder = audio.NewRecorder(recorderConfig, c.clock, func(chunk audio.Chunk) {
		if _, err := r.queue.Submit(chunk); err != nil {
			logrus.WithError(err).WithField("chunk_start", chunk.StartTime).Warn("Chunk not submitted")
		}
	})
	if err := r.recorder.Start(ctx, capture); err != nil {
		r.session.End(c.clock.Now(), session.StopRequested)
		return fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	}
	return nil
}

func (r *run) guardTargets() guard.Targets {
	t := guard.Targets{Segments: r.session}
	if r.recorder != nil {
		t.Chunks = r.recorder
	}
	if r.queue != nil {
		t.Tasks = r.queue
	}
	return t
}

func (r *run) close() {
	for _, fn := range r.closers {
		fn()
	}
	r.closers = nil
}

// handleTranscription is the only path by which transcribed text enters a
// session.
func (c *Controller) handleTranscription(r *run, task pipeline.Task) {
	data := feedback.TranscriptionData{
		TaskID:     task.ID,
		ChunkStart: task.StartTime,
		Text:       task.Text,
		Reason:     task.Reason,
	}
	switch task.Status {
	case pipeline.TaskAccepted:
		c.publishTranscription(r, feedback.EventTranscriptionCompleted, data)
		(&sink{c: c, r: r}).AppendWithDuration(task.Text, task.StartTime, segment.SourceTranscribed, task.Duration)
	case pipeline.TaskRejected:
		c.publishTranscription(r, feedback.EventTranscriptionRejected, data)
	case pipeline.TaskFailed:
		c.publishTranscription(r, feedback.EventTranscriptionFailed, data)
	}
}

// Stop ends the active session and returns its segments. After a safety
// stop the stored result is returned once.
func (c *Controller) Stop() (Result, error) {
	c.mu.Lock()
	r := c.active
	if r == nil {
		unclaimed := c.unclaimed
		c.unclaimed = nil
		c.mu.Unlock()
		if unclaimed != nil {
			return *unclaimed, nil
		}
		return Result{}, ErrNotActive
	}
	c.active = nil
	c.mu.Unlock()

	return c.teardown(r, session.StopRequested), nil
}

// safetyStop is called by the guard when the session ceiling is reached.
func (c *Controller) safetyStop(r *run) {
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	result := c.teardown(r, session.StopSafety)

	c.mu.Lock()
	if c.active == nil {
		c.unclaimed = &result
	}
	c.mu.Unlock()
}

func (c *Controller) teardown(r *run, reason session.StopReason) Result {
	r.guard.Stop()
	r.cancel()
	r.wg.Wait()

	if r.sampler != nil {
		r.sampler.Flush()
	}
	if r.recorder != nil {
		partial, err := r.recorder.Stop()
		if err == nil && partial != nil {
			// in-flight transcription is abandoned on stop, so is the tail
			logrus.WithFields(logrus.Fields{
				"chunk_start": partial.StartTime,
				"duration":    partial.Duration,
			}).Debug("Discarding partial chunk on stop")
		}
	}
	if r.queue != nil {
		r.queue.Stop()
	}
	r.close()

	now := c.clock.Now()
	r.session.End(now, reason)
	segments := r.session.Segments()
	result := Result{
		SessionID:       r.session.ID,
		Mode:            r.session.Mode,
		Segments:        segments,
		Consolidated:    segment.Consolidate(segments, now),
		DurationSeconds: r.session.Elapsed(now).Seconds(),
		Reason:          reason,
	}

	eventType := feedback.EventSessionStopped
	if reason == session.StopSafety {
		eventType = feedback.EventSessionSafetyStop
	}
	c.publishSession(eventType, r, string(reason))

	logrus.WithFields(logrus.Fields{
		"session_id":       result.SessionID,
		"segments":         len(result.Segments),
		"duration_seconds": result.DurationSeconds,
		"reason":           reason,
	}).Info("Collection session stopped")
	return result
}

// Status reports the active session, if any.
func (c *Controller) Status() Status {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return Status{}
	}

	rejected, trimmed := r.session.Counters()
	st := Status{
		IsActive:       r.session.IsActive(),
		SessionID:      r.session.ID,
		Mode:           r.session.Mode,
		SegmentCount:   r.session.Len(),
		ElapsedSeconds: r.session.Elapsed(c.clock.Now()).Seconds(),
		Rejected:       rejected,
		Trimmed:        trimmed,
	}
	if r.sampler != nil {
		class := r.sampler.Class()
		st.Stream = &class
	}
	if r.queue != nil {
		metrics := r.queue.GetMetrics()
		st.Transcription = &metrics
		st.QueueDepth = r.queue.GetQueueDepth()
		st.TrackedTasks = len(r.queue.Tasks())
	}
	if r.recorder != nil {
		st.RecorderState = r.recorder.State().String()
	}
	if reporter, ok := r.capture.(statusReporter); ok {
		st.Capture = reporter.GetStatus()
	}
	return st
}

// Close stops any active session.
func (c *Controller) Close() {
	if _, err := c.Stop(); err != nil && !errors.Is(err, ErrNotActive) {
		logrus.WithError(err).Warn("Error stopping session on close")
	}
}

func (c *Controller) publishSession(eventType feedback.EventType, r *run, reason string) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.PublishSession(eventType, r.session.ID, feedback.SessionData{
		Mode:            string(r.session.Mode),
		SegmentCount:    r.session.Len(),
		DurationSeconds: r.session.Elapsed(c.clock.Now()).Seconds(),
		Reason:          reason,
	})
}

func (c *Controller) publishTranscription(r *run, eventType feedback.EventType, data feedback.TranscriptionData) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.PublishTranscription(eventType, r.session.ID, data)
}

func (c *Controller) publishSweep(r *run, result guard.SweepResult) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.PublishMemorySwept(r.session.ID, feedback.SweepData{
		SegmentsTrimmed: result.SegmentsTrimmed,
		ChunksTrimmed:   result.ChunksTrimmed,
		TasksPurged:     result.TasksPurged,
	})
}
