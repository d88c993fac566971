// Package transcriber wraps speech-to-text backends behind one interface.
package transcriber

import (
	"context"
	"errors"
	"time"
)

// ErrNotReady is returned when a backend cannot accept requests.
var ErrNotReady = errors.New("transcriber not ready")

// Transcriber is the unified interface for all transcription backends.
// Audio is a complete WAV file.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*TranscriptResult, error)

	// IsReady reports whether the backend can process requests
	IsReady() bool

	// Close releases resources
	Close() error
}

// TranscribeOptions provides context for a single request
type TranscribeOptions struct {
	// PreviousTranscript is the tail of the last accepted text. It keeps
	// wording consistent across chunk boundaries.
	PreviousTranscript string

	// Language hint (e.g., "en", "de"); empty or "auto" lets the backend detect
	Language string

	// Temperature for sampling (Whisper-specific, 0.0-1.0)
	Temperature float32
}

// TranscriptResult contains the transcription result with metadata
type TranscriptResult struct {
	Text     string
	Language string
	// Processing duration
	Duration time.Duration
}

// Config selects and configures a backend.
type Config struct {
	// Type is "openai", "whisper" or "mock"
	Type string

	APIKey  string
	BaseURL string
	Model   string

	// ModelPath is the whisper.cpp model file
	ModelPath string
	Threads   int
	BeamSize  int
	UseGPU    bool
	GPULayers int
}
