package collector

import (
	"errors"
	"time"

	"github.com/fankserver/caption-collector/internal/pipeline"
	"github.com/fankserver/caption-collector/internal/segment"
	"github.com/fankserver/caption-collector/internal/session"
	"github.com/fankserver/caption-collector/internal/textproc"
)

var (
	// ErrAlreadyActive is returned by Start while a session is running.
	ErrAlreadyActive = errors.New("a collection session is already active")
	// ErrNotActive is returned by Stop when nothing is running.
	ErrNotActive = errors.New("no active collection session")
	// ErrCaptionUnavailable means no caption surface could be reached.
	ErrCaptionUnavailable = errors.New("caption surface unavailable")
	// ErrAudioUnavailable means audio could not be captured or transcribed.
	ErrAudioUnavailable = errors.New("audio capture unavailable")
	// ErrUnknownMode is returned for an unsupported collection mode.
	ErrUnknownMode = errors.New("unknown collection mode")
)

// Options tune a single session. Zero values use the configured defaults.
type Options struct {
	ChunkDuration time.Duration `json:"chunkDuration"`
	ChunkGap      time.Duration `json:"chunkGap"`
	// TimeSegmentThreshold in seconds
	TimeSegmentThreshold float64 `json:"timeSegmentThreshold"`
	// ChunkDurationThreshold in seconds
	ChunkDurationThreshold float64 `json:"chunkDurationThreshold"`
	LanguageHint           string  `json:"languageHint"`
}

// Status is the host-facing view of the controller.
type Status struct {
	IsActive       bool                   `json:"isActive"`
	SessionID      string                 `json:"sessionId,omitempty"`
	Mode           session.Mode           `json:"mode,omitempty"`
	SegmentCount   int                    `json:"segmentCount"`
	ElapsedSeconds float64                `json:"elapsedSeconds"`
	Rejected       int                    `json:"rejected"`
	Trimmed        int                    `json:"trimmed"`
	Stream         *textproc.StreamClass  `json:"stream,omitempty"`
	Transcription  *pipeline.QueueMetrics `json:"transcription,omitempty"`
	QueueDepth     int                    `json:"queueDepth,omitempty"`
	TrackedTasks   int                    `json:"trackedTasks,omitempty"`
	RecorderState  string                 `json:"recorderState,omitempty"`
	Capture        map[string]interface{} `json:"capture,omitempty"`
}

// statusReporter is implemented by captures that can describe their
// connection, such as the Discord voice bot.
type statusReporter interface {
	GetStatus() map[string]interface{}
}

// Result is what Stop returns.
type Result struct {
	SessionID       string                   `json:"sessionId"`
	Mode            session.Mode             `json:"mode"`
	Segments        []segment.CaptionSegment `json:"segments"`
	Consolidated    []segment.CaptionSegment `json:"consolidated"`
	DurationSeconds float64                  `json:"durationSeconds"`
	Reason          session.StopReason       `json:"reason"`
}
