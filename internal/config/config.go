// Package config loads caption-collector settings from defaults, an optional
// YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/fankserver/caption-collector/internal/caption"
	"github.com/fankserver/caption-collector/internal/collector"
	"github.com/fankserver/caption-collector/internal/guard"
	"github.com/fankserver/caption-collector/internal/pipeline"
	"github.com/fankserver/caption-collector/internal/segment"
	"github.com/fankserver/caption-collector/pkg/transcriber"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full application configuration.
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	Segments      SegmentConfig       `yaml:"segments"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Guard         GuardConfig         `yaml:"guard"`
	Discord       DiscordConfig       `yaml:"discord"`
	ExportDir     string              `yaml:"export_dir"`
}

// CaptureConfig configures caption sampling and where captions come from.
type CaptureConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	MinLength      int           `yaml:"min_length"`
	PageURL        string        `yaml:"page_url"`
	Selector       string        `yaml:"selector"`
	BrowserURL     string        `yaml:"browser_url"`
	RelayURL       string        `yaml:"relay_url"`
}

// SegmentConfig holds the segment builder thresholds, in seconds.
type SegmentConfig struct {
	TimeSegmentThreshold       float64 `yaml:"time_segment_threshold"`
	ChunkDurationThreshold     float64 `yaml:"chunk_duration_threshold"`
	AutoChunkDurationThreshold float64 `yaml:"auto_chunk_duration_threshold"`
	DefaultDuration            float64 `yaml:"default_duration"`
	SimilarityThreshold        float64 `yaml:"similarity_threshold"`
}

// AudioConfig configures the chunk recorder.
type AudioConfig struct {
	ChunkDuration time.Duration `yaml:"chunk_duration"`
	ChunkGap      time.Duration `yaml:"chunk_gap"`
	MinPartial    time.Duration `yaml:"min_partial"`
	SampleRate    int           `yaml:"sample_rate"`
	// MinSpeechRatio skips chunks with less voiced audio than this.
	MinSpeechRatio float64 `yaml:"min_speech_ratio"`
	// Source is "stdin" or "discord".
	Source string `yaml:"source"`
}

// TranscriptionConfig configures the transcription backend.
type TranscriptionConfig struct {
	Type         string        `yaml:"type"`
	APIKey       string        `yaml:"-"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	ModelPath    string        `yaml:"model_path"`
	LanguageHint string        `yaml:"language_hint"`
	Timeout      time.Duration `yaml:"timeout"`
}

// GuardConfig configures the session memory guard.
type GuardConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MaxSegments    int           `yaml:"max_segments"`
	ChunkHistory   int           `yaml:"chunk_history"`
	TaskMaxAge     time.Duration `yaml:"task_max_age"`
	SessionCeiling time.Duration `yaml:"session_ceiling"`
}

// DiscordConfig selects the voice channel used as an audio source.
type DiscordConfig struct {
	Token     string `yaml:"-"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// Default returns the built-in configuration.
func Default() Config {
	builder := segment.DefaultBuilderConfig()
	sampler := caption.DefaultSamplerConfig()
	recorder := audio.DefaultConfig()
	queue := pipeline.DefaultQueueConfig()
	g := guard.DefaultConfig()
	return Config{
		Capture: CaptureConfig{
			SampleInterval: sampler.Interval,
			MinLength:      sampler.MinLength,
			Selector:       caption.DefaultCaptionSelector,
		},
		Segments: SegmentConfig{
			TimeSegmentThreshold:       builder.TimeSegmentThreshold,
			ChunkDurationThreshold:     builder.ChunkDurationThreshold,
			AutoChunkDurationThreshold: builder.AutoChunkDurationThreshold,
			DefaultDuration:            builder.DefaultDuration,
			SimilarityThreshold:        builder.SimilarityThreshold,
		},
		Audio: AudioConfig{
			ChunkDuration:  recorder.ChunkDuration,
			ChunkGap:       recorder.ChunkGap,
			MinPartial:     recorder.MinPartial,
			SampleRate:     audio.DefaultFormat.SampleRate,
			MinSpeechRatio: 0.05,
			Source:         "stdin",
		},
		Transcription: TranscriptionConfig{
			Type:    "openai",
			Model:   transcriber.DefaultOpenAIModel,
			Timeout: queue.ProcessTimeout,
		},
		Guard: GuardConfig{
			Interval:       g.Interval,
			MaxSegments:    g.MaxSegments,
			ChunkHistory:   g.ChunkHistory,
			TaskMaxAge:     g.TaskMaxAge,
			SessionCeiling: g.SessionCeiling,
		},
		ExportDir: "exports",
	}
}

// SearchPaths lists the config files tried when none is given.
func SearchPaths() []string {
	paths := []string{"caption-collector.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "caption-collector", "config.yaml"))
	}
	return paths
}

// Load builds the configuration. An explicit path must exist; otherwise the
// first file found on SearchPaths is used, if any. A .env file in the
// working directory is loaded before the environment is read.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}

	cfg := Default()
	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
		logrus.WithField("path", path).Debug("Loaded config file")
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	seconds := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = time.Duration(f * float64(time.Second))
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	seconds("CHUNK_DURATION_SEC", &c.Audio.ChunkDuration)
	seconds("CHUNK_GAP_SEC", &c.Audio.ChunkGap)
	float("TIME_SEGMENT_THRESHOLD_SEC", &c.Segments.TimeSegmentThreshold)
	float("CHUNK_DURATION_THRESHOLD_SEC", &c.Segments.ChunkDurationThreshold)
	float("MIN_SPEECH_RATIO", &c.Audio.MinSpeechRatio)
	if v, ok := lookup("SAMPLE_INTERVAL_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SAMPLE_INTERVAL_MS: %w", err))
		} else {
			c.Capture.SampleInterval = time.Duration(ms) * time.Millisecond
		}
	}
	seconds("TRANSCRIPTION_TIMEOUT_SEC", &c.Transcription.Timeout)
	seconds("SESSION_CEILING_SEC", &c.Guard.SessionCeiling)

	str("LANGUAGE_HINT", &c.Transcription.LanguageHint)
	str("TRANSCRIBER_TYPE", &c.Transcription.Type)
	str("OPENAI_API_KEY", &c.Transcription.APIKey)
	str("OPENAI_BASE_URL", &c.Transcription.BaseURL)
	str("TRANSCRIPTION_MODEL", &c.Transcription.Model)
	str("WHISPER_MODEL_PATH", &c.Transcription.ModelPath)
	str("AUDIO_SOURCE", &c.Audio.Source)
	str("CAPTION_PAGE_URL", &c.Capture.PageURL)
	str("CAPTION_SELECTOR", &c.Capture.Selector)
	str("CAPTION_BROWSER_URL", &c.Capture.BrowserURL)
	str("CAPTION_RELAY_URL", &c.Capture.RelayURL)
	str("DISCORD_TOKEN", &c.Discord.Token)
	str("DISCORD_GUILD_ID", &c.Discord.GuildID)
	str("DISCORD_CHANNEL_ID", &c.Discord.ChannelID)
	str("EXPORT_DIR", &c.ExportDir)

	return errors.Join(errs...)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalid, name))
		}
	}
	positive("capture.sample_interval", c.Capture.SampleInterval)
	positive("audio.chunk_duration", c.Audio.ChunkDuration)
	positive("transcription.timeout", c.Transcription.Timeout)
	positive("guard.session_ceiling", c.Guard.SessionCeiling)
	if c.Audio.ChunkGap < 0 {
		errs = append(errs, fmt.Errorf("%w: audio.chunk_gap must not be negative", ErrInvalid))
	}
	if c.Segments.TimeSegmentThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: segments.time_segment_threshold must be positive", ErrInvalid))
	}
	if c.Segments.ChunkDurationThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: segments.chunk_duration_threshold must be positive", ErrInvalid))
	}
	if s := c.Segments.SimilarityThreshold; s <= 0 || s > 1 {
		errs = append(errs, fmt.Errorf("%w: segments.similarity_threshold must be in (0,1]", ErrInvalid))
	}
	if r := c.Audio.MinSpeechRatio; r < 0 || r >= 1 {
		errs = append(errs, fmt.Errorf("%w: audio.min_speech_ratio must be in [0,1)", ErrInvalid))
	}
	if c.Guard.MaxSegments <= 0 {
		errs = append(errs, fmt.Errorf("%w: guard.max_segments must be positive", ErrInvalid))
	}
	switch strings.ToLower(c.Audio.Source) {
	case "stdin", "discord":
	default:
		errs = append(errs, fmt.Errorf("%w: audio.source %q", ErrInvalid, c.Audio.Source))
	}
	return errors.Join(errs...)
}

// Collector converts the configuration into component defaults.
func (c Config) Collector() collector.Config {
	cc := collector.DefaultConfig()

	cc.Sampler.Interval = c.Capture.SampleInterval
	cc.Sampler.MinLength = c.Capture.MinLength
	cc.Sampler.SeekThreshold = c.Segments.TimeSegmentThreshold

	cc.Builder.TimeSegmentThreshold = c.Segments.TimeSegmentThreshold
	cc.Builder.ChunkDurationThreshold = c.Segments.ChunkDurationThreshold
	cc.Builder.AutoChunkDurationThreshold = c.Segments.AutoChunkDurationThreshold
	cc.Builder.DefaultDuration = c.Segments.DefaultDuration
	cc.Builder.SimilarityThreshold = c.Segments.SimilarityThreshold

	cc.Recorder.ChunkDuration = c.Audio.ChunkDuration
	cc.Recorder.ChunkGap = c.Audio.ChunkGap
	cc.Recorder.MinPartial = c.Audio.MinPartial

	cc.Queue.ProcessTimeout = c.Transcription.Timeout
	cc.Queue.Language = c.Transcription.LanguageHint
	cc.Queue.MinSpeechRatio = c.Audio.MinSpeechRatio

	cc.Guard.Interval = c.Guard.Interval
	cc.Guard.MaxSegments = c.Guard.MaxSegments
	cc.Guard.ChunkHistory = c.Guard.ChunkHistory
	cc.Guard.TaskMaxAge = c.Guard.TaskMaxAge
	cc.Guard.SessionCeiling = c.Guard.SessionCeiling
	return cc
}

// Transcriber converts the configuration into a transcriber.Config.
func (c Config) Transcriber() transcriber.Config {
	return transcriber.Config{
		Type:      c.Transcription.Type,
		APIKey:    c.Transcription.APIKey,
		BaseURL:   c.Transcription.BaseURL,
		Model:     c.Transcription.Model,
		ModelPath: c.Transcription.ModelPath,
	}
}
