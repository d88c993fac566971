package transcriber

import (
	"context"
	"fmt"
)

// New builds the backend named by config.Type.
func New(config Config) (Transcriber, error) {
	switch config.Type {
	case "openai", "":
		return NewOpenAITranscriber(config.APIKey, config.BaseURL, config.Model)
	case "whisper":
		return NewWhisperCppTranscriber(config)
	case "mock":
		return &MockTranscriber{}, nil
	default:
		return nil, fmt.Errorf("unknown transcriber type %q", config.Type)
	}
}

// MockTranscriber for testing without actual transcription
type MockTranscriber struct{}

func (mt *MockTranscriber) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &TranscriptResult{
		Text:     fmt.Sprintf("mock transcript of %d audio bytes", len(audio)),
		Language: opts.Language,
	}, nil
}

func (mt *MockTranscriber) IsReady() bool {
	return true
}

func (mt *MockTranscriber) Close() error {
	return nil
}
