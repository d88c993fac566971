package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "whisper-1"

// OpenAITranscriber calls an OpenAI-compatible audio transcription endpoint.
type OpenAITranscriber struct {
	client openai.Client
	model  string
}

// NewOpenAITranscriber creates a client. The SDK's own retries are disabled;
// a chunk gets exactly one attempt.
func NewOpenAITranscriber(apiKey, baseURL, model string) (*OpenAITranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}

	logrus.WithFields(logrus.Fields{
		"model":    model,
		"base_url": baseURL,
	}).Info("OpenAI transcriber initialized")

	return &OpenAITranscriber{
		client: openai.NewClient(clientOpts...),
		model:  model,
	}, nil
}

// Transcribe uploads the WAV and returns the recognized text.
func (ot *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*TranscriptResult, error) {
	startTime := time.Now()

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "chunk.wav", "audio/wav"),
		Model: openai.AudioModel(ot.model),
	}
	if lang := languageHint(opts.Language); lang != "" {
		params.Language = openai.String(lang)
	}
	if prompt := CreateContextPrompt(opts.PreviousTranscript); prompt != "" {
		params.Prompt = openai.String(prompt)
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}

	logrus.WithFields(logrus.Fields{
		"audio_bytes": len(audio),
		"model":       ot.model,
		"has_context": opts.PreviousTranscript != "",
	}).Debug("OpenAITranscriber: Starting transcription")

	resp, err := ot.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai transcription failed: %w", err)
	}

	result := &TranscriptResult{
		Text:     strings.TrimSpace(resp.Text),
		Language: opts.Language,
		Duration: time.Since(startTime),
	}
	logrus.WithFields(logrus.Fields{
		"transcript_length": len(result.Text),
		"processing_time":   result.Duration,
	}).Debug("OpenAITranscriber: Transcription complete")
	return result, nil
}

func (ot *OpenAITranscriber) IsReady() bool {
	return true
}

func (ot *OpenAITranscriber) Close() error {
	return nil
}
