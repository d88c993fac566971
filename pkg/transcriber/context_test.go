package transcriber

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateContextPrompt(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty_input",
			input:    "",
			expected: "",
		},
		{
			name:     "short_transcript",
			input:    "Hello world",
			expected: "Hello world",
		},
		{
			name:     "exactly_30_words",
			input:    "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour twentyfive twentysix twentyseven twentyeight twentynine thirty",
			expected: "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour twentyfive twentysix twentyseven twentyeight twentynine thirty",
		},
		{
			name:     "more_than_30_words_takes_last_30",
			input:    "start word1 word2 word3 word4 word5 one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour twentyfive twentysix twentyseven twentyeight twentynine thirty",
			expected: "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour twentyfive twentysix twentyseven twentyeight twentynine thirty",
		},
		{
			name:     "punctuation_preserved",
			input:    "Hello, world! How are you? I'm fine.",
			expected: "Hello, world! How are you? I'm fine.",
		},
		{
			name:     "whitespace_normalized",
			input:    "Hello    world\nwith\ttabs",
			expected: "Hello world with tabs",
		},
		{
			name:     "only_spaces",
			input:    "     ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CreateContextPrompt(tt.input))
		})
	}
}

func TestContextPromptWordLimit(t *testing.T) {
	longTranscript := strings.Repeat("word ", 100)
	words := strings.Fields(CreateContextPrompt(longTranscript))
	assert.Len(t, words, ContextWordCount)
}

func TestLanguageHint(t *testing.T) {
	assert.Equal(t, "", languageHint("auto"))
	assert.Equal(t, "", languageHint("AUTO"))
	assert.Equal(t, "de", languageHint("de"))
	assert.Equal(t, "", languageHint(""))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		check   func(t *testing.T, tr Transcriber)
	}{
		{
			name:   "mock",
			config: Config{Type: "mock"},
			check: func(t *testing.T, tr Transcriber) {
				assert.IsType(t, &MockTranscriber{}, tr)
			},
		},
		{
			name:   "openai",
			config: Config{Type: "openai", APIKey: "sk-test"},
			check: func(t *testing.T, tr Transcriber) {
				ot, ok := tr.(*OpenAITranscriber)
				require.True(t, ok)
				assert.Equal(t, DefaultOpenAIModel, ot.model)
			},
		},
		{
			name:    "openai_without_key",
			config:  Config{Type: "openai"},
			wantErr: true,
		},
		{
			name:    "whisper_missing_model",
			config:  Config{Type: "whisper", ModelPath: "/nonexistent/model.bin"},
			wantErr: true,
		},
		{
			name:    "unknown",
			config:  Config{Type: "carrier-pigeon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tr.IsReady())
			tt.check(t, tr)
			assert.NoError(t, tr.Close())
		})
	}
}

func TestMockTranscriber(t *testing.T) {
	mt := &MockTranscriber{}
	result, err := mt.Transcribe(context.Background(), make([]byte, 10), TranscribeOptions{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "mock transcript of 10 audio bytes", result.Text)
	assert.Equal(t, "en", result.Language)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mt.Transcribe(ctx, nil, TranscribeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWhisperCppArgs(t *testing.T) {
	wt := &WhisperCppTranscriber{
		modelPath: "/models/ggml-base.bin",
		threads:   "4",
		beamSize:  "1",
		useGPU:    true,
		gpuLayers: 32,
	}

	args := wt.args(TranscribeOptions{Language: "auto", PreviousTranscript: "previous words"})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-m /models/ggml-base.bin")
	assert.Contains(t, joined, "-l auto")
	assert.Contains(t, joined, "--prompt previous words")
	assert.Contains(t, joined, "-ngl 32")
	assert.Equal(t, []string{"-f", "-"}, args[len(args)-2:])

	wt.useGPU = false
	args = wt.args(TranscribeOptions{Language: "ja"})
	joined = strings.Join(args, " ")
	assert.Contains(t, joined, "-l ja")
	assert.NotContains(t, joined, "-ngl")
	assert.NotContains(t, joined, "--prompt")
}
