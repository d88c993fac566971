package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1500*time.Millisecond, cfg.Capture.SampleInterval)
	assert.Equal(t, 8*time.Second, cfg.Audio.ChunkDuration)
	assert.Equal(t, 3*time.Second, cfg.Audio.ChunkGap)
	assert.Equal(t, 10.0, cfg.Segments.TimeSegmentThreshold)
	assert.Equal(t, 45.0, cfg.Segments.ChunkDurationThreshold)
	assert.Equal(t, 30*time.Second, cfg.Transcription.Timeout)
	assert.Equal(t, 120*time.Second, cfg.Guard.SessionCeiling)
	assert.Equal(t, 100, cfg.Guard.MaxSegments)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"CHUNK_DURATION_SEC":         "6.5",
		"CHUNK_GAP_SEC":              "2",
		"TIME_SEGMENT_THRESHOLD_SEC": "15",
		"SAMPLE_INTERVAL_MS":         "750",
		"LANGUAGE_HINT":              "de",
		"OPENAI_API_KEY":             "sk-test",
		"TRANSCRIBER_TYPE":           "mock",
		"DISCORD_CHANNEL_ID":         "123",
		"CAPTION_RELAY_URL":          "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 6500*time.Millisecond, cfg.Audio.ChunkDuration)
	assert.Equal(t, 2*time.Second, cfg.Audio.ChunkGap)
	assert.Equal(t, 15.0, cfg.Segments.TimeSegmentThreshold)
	assert.Equal(t, 750*time.Millisecond, cfg.Capture.SampleInterval)
	assert.Equal(t, "de", cfg.Transcription.LanguageHint)
	assert.Equal(t, "sk-test", cfg.Transcription.APIKey)
	assert.Equal(t, "mock", cfg.Transcription.Type)
	assert.Equal(t, "123", cfg.Discord.ChannelID)
	assert.Empty(t, cfg.Capture.RelayURL)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "chunk_duration", key: "CHUNK_DURATION_SEC"},
		{name: "threshold", key: "CHUNK_DURATION_THRESHOLD_SEC"},
		{name: "sample_interval", key: "SAMPLE_INTERVAL_MS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(envMap(map[string]string{tt.key: "soon"}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "zero_chunk_duration", mutate: func(c *Config) { c.Audio.ChunkDuration = 0 }},
		{name: "negative_gap", mutate: func(c *Config) { c.Audio.ChunkGap = -time.Second }},
		{name: "zero_sample_interval", mutate: func(c *Config) { c.Capture.SampleInterval = 0 }},
		{name: "similarity_above_one", mutate: func(c *Config) { c.Segments.SimilarityThreshold = 1.5 }},
		{name: "zero_time_threshold", mutate: func(c *Config) { c.Segments.TimeSegmentThreshold = 0 }},
		{name: "no_segments", mutate: func(c *Config) { c.Guard.MaxSegments = 0 }},
		{name: "speech_ratio_one", mutate: func(c *Config) { c.Audio.MinSpeechRatio = 1 }},
		{name: "unknown_source", mutate: func(c *Config) { c.Audio.Source = "microphone" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
capture:
  sample_interval: 2s
  page_url: https://example.com/live
audio:
  chunk_duration: 10s
  source: discord
segments:
  chunk_duration_threshold: 30
discord:
  guild_id: "42"
`), 0600))

	t.Setenv("CHUNK_GAP_SEC", "4")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Capture.SampleInterval)
	assert.Equal(t, "https://example.com/live", cfg.Capture.PageURL)
	assert.Equal(t, 10*time.Second, cfg.Audio.ChunkDuration)
	assert.Equal(t, 4*time.Second, cfg.Audio.ChunkGap)
	assert.Equal(t, "discord", cfg.Audio.Source)
	assert.Equal(t, 30.0, cfg.Segments.ChunkDurationThreshold)
	assert.Equal(t, "42", cfg.Discord.GuildID)
	// untouched keys keep their defaults
	assert.Equal(t, 10.0, cfg.Segments.TimeSegmentThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCollectorConfig(t *testing.T) {
	cfg := Default()
	cfg.Audio.ChunkDuration = 5 * time.Second
	cfg.Segments.TimeSegmentThreshold = 12
	cfg.Transcription.LanguageHint = "ja"

	cc := cfg.Collector()
	assert.Equal(t, 5*time.Second, cc.Recorder.ChunkDuration)
	assert.Equal(t, 12.0, cc.Builder.TimeSegmentThreshold)
	assert.Equal(t, 12.0, cc.Sampler.SeekThreshold)
	assert.Equal(t, "ja", cc.Queue.Language)
	assert.Equal(t, 100, cc.Guard.MaxSegments)
	assert.Equal(t, 0.05, cc.Queue.MinSpeechRatio)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}
