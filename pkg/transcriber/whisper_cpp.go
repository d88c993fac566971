package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// WhisperCppTranscriber runs the whisper.cpp CLI locally. The chunk WAV is
// passed on stdin.
type WhisperCppTranscriber struct {
	modelPath   string
	whisperPath string
	threads     string
	beamSize    string
	useGPU      bool
	gpuLayers   int
}

// NewWhisperCppTranscriber validates the model and binary.
func NewWhisperCppTranscriber(config Config) (*WhisperCppTranscriber, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("whisper model file not found: %s", config.ModelPath)
		}
		return nil, fmt.Errorf("whisper model file not accessible: %w", err)
	}

	whisperPath, err := exec.LookPath("whisper")
	if err != nil {
		return nil, fmt.Errorf("whisper executable not found in PATH: %w", err)
	}

	threads := config.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
		if config.UseGPU {
			// fewer CPU threads when offloading
			threads = 4
		}
	}
	beamSize := config.BeamSize
	if beamSize <= 0 {
		beamSize = 1
	}
	gpuLayers := config.GPULayers
	if config.UseGPU && gpuLayers <= 0 {
		gpuLayers = 32
	}

	logrus.WithFields(logrus.Fields{
		"whisper":    whisperPath,
		"model":      config.ModelPath,
		"threads":    threads,
		"beam_size":  beamSize,
		"gpu":        config.UseGPU,
		"gpu_layers": gpuLayers,
	}).Info("whisper.cpp transcriber initialized")

	return &WhisperCppTranscriber{
		modelPath:   config.ModelPath,
		whisperPath: whisperPath,
		threads:     strconv.Itoa(threads),
		beamSize:    strconv.Itoa(beamSize),
		useGPU:      config.UseGPU,
		gpuLayers:   gpuLayers,
	}, nil
}

func (wt *WhisperCppTranscriber) args(opts TranscribeOptions) []string {
	lang := languageHint(opts.Language)
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", wt.modelPath,
		"-l", lang,
		"-t", wt.threads,
		"-bs", wt.beamSize,
		"--no-timestamps",
	}
	if prompt := CreateContextPrompt(opts.PreviousTranscript); prompt != "" {
		args = append(args, "--prompt", prompt)
	}
	if wt.useGPU && wt.gpuLayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(wt.gpuLayers))
	}
	return append(args, "-f", "-")
}

// Transcribe runs one whisper.cpp process per chunk. Cancelling ctx kills it.
func (wt *WhisperCppTranscriber) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*TranscriptResult, error) {
	startTime := time.Now()

	// #nosec G204 - whisperPath is validated at initialization
	cmd := exec.CommandContext(ctx, wt.whisperPath, wt.args(opts)...)
	cmd.Stdin = bytes.NewReader(audio)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logrus.WithFields(logrus.Fields{
			"error":  err,
			"stderr": errBuf.String(),
		}).Error("Whisper transcription failed")
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	result := &TranscriptResult{
		Text:     string(bytes.TrimSpace(outBuf.Bytes())),
		Language: opts.Language,
		Duration: time.Since(startTime),
	}
	logrus.WithFields(logrus.Fields{
		"transcript_length": len(result.Text),
		"processing_time":   result.Duration,
		"gpu":               wt.useGPU,
	}).Info("WhisperCppTranscriber: Transcription complete")
	return result, nil
}

func (wt *WhisperCppTranscriber) IsReady() bool {
	return true
}

func (wt *WhisperCppTranscriber) Close() error {
	return nil
}
