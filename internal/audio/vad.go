package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// vadFrame is the analysis window of the detector.
const vadFrame = 20 * time.Millisecond

// VADConfig holds configuration for the voice activity detector.
type VADConfig struct {
	EnergyThreshold       float64
	SpeechFramesRequired  int
	SilenceFramesRequired int
}

// VoiceActivityDetector classifies PCM frames as voice or not using RMS
// energy against an adaptive noise floor and the zero-crossing rate.
type VoiceActivityDetector struct {
	energyThreshold      float64
	adaptiveThreshold    float64
	backgroundNoiseLevel float64
	zcThreshold          float64
	smoothingFactor      float64

	speechCount           int
	silenceCount          int
	speechFramesRequired  int
	silenceFramesRequired int
	isSpeaking            bool
}

// NewVoiceActivityDetector creates a detector with default settings.
func NewVoiceActivityDetector() *VoiceActivityDetector {
	return NewVoiceActivityDetectorWithConfig(VADConfig{})
}

// NewVoiceActivityDetectorWithConfig creates a detector; zero fields take
// their defaults.
func NewVoiceActivityDetectorWithConfig(config VADConfig) *VoiceActivityDetector {
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = 0.01
	}
	if config.SpeechFramesRequired <= 0 {
		config.SpeechFramesRequired = 3
	}
	if config.SilenceFramesRequired <= 0 {
		config.SilenceFramesRequired = 15
	}
	return &VoiceActivityDetector{
		energyThreshold:       config.EnergyThreshold,
		adaptiveThreshold:     config.EnergyThreshold,
		backgroundNoiseLevel:  0.001,
		zcThreshold:           0.25,
		smoothingFactor:       0.1,
		speechFramesRequired:  config.SpeechFramesRequired,
		silenceFramesRequired: config.SilenceFramesRequired,
	}
}

// IsVoice classifies one frame and updates the noise floor. Unlike
// DetectVoiceActivity it applies no hysteresis.
func (vad *VoiceActivityDetector) IsVoice(pcm []byte) bool {
	samples := bytesToInt16(pcm)
	if len(samples) == 0 {
		return false
	}
	energy := calculateRMS(samples)
	vad.updateNoiseEstimate(energy)
	return vad.classifyFrame(energy, calculateZeroCrossingRate(samples))
}

// DetectVoiceActivity classifies a frame and reports the smoothed speaking
// state: speech starts after SpeechFramesRequired voiced frames and ends
// after SilenceFramesRequired unvoiced ones.
func (vad *VoiceActivityDetector) DetectVoiceActivity(pcm []byte) bool {
	if len(pcm) == 0 {
		return false
	}
	vad.updateState(vad.IsVoice(pcm))
	return vad.isSpeaking
}

func (vad *VoiceActivityDetector) updateNoiseEstimate(energy float64) {
	// the floor only follows quiet frames
	if vad.isSpeaking || energy >= vad.adaptiveThreshold*2 {
		return
	}
	vad.backgroundNoiseLevel = vad.smoothingFactor*energy + (1-vad.smoothingFactor)*vad.backgroundNoiseLevel
	vad.adaptiveThreshold = math.Max(vad.backgroundNoiseLevel*3.0, vad.energyThreshold)
}

func (vad *VoiceActivityDetector) classifyFrame(energy, zcr float64) bool {
	if energy < vad.adaptiveThreshold {
		return false
	}
	// very high crossing rates are hiss, not voice
	if zcr > vad.zcThreshold*2 {
		return false
	}
	return energy >= vad.backgroundNoiseLevel*2
}

func (vad *VoiceActivityDetector) updateState(isVoice bool) {
	if isVoice {
		vad.speechCount++
		vad.silenceCount = 0
		if vad.speechCount >= vad.speechFramesRequired {
			vad.isSpeaking = true
		}
		return
	}
	vad.silenceCount++
	vad.speechCount = 0
	if vad.silenceCount >= vad.silenceFramesRequired {
		vad.isSpeaking = false
	}
}

// SpeechRatio returns the fraction of 20ms frames of a mono or interleaved
// chunk during which a fresh detector reports speaking. Voiced runs shorter
// than SpeechFramesRequired, such as clicks, do not count. Interleaved
// channels are mixed down first.
func SpeechRatio(pcm []byte, f Format) float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(pcm) < 2 {
		return 0
	}
	if f.Channels > 1 {
		pcm = Resample(bytesToInt16(pcm[:len(pcm)&^1]), f, f.SampleRate)
	}
	frameBytes := int(int64(f.SampleRate)*int64(vadFrame)/int64(time.Second)) * 2
	if frameBytes <= 0 {
		return 0
	}

	vad := NewVoiceActivityDetector()
	frames, voiced := 0, 0
	for start := 0; start+frameBytes <= len(pcm); start += frameBytes {
		frames++
		if vad.DetectVoiceActivity(pcm[start : start+frameBytes]) {
			voiced++
		}
	}
	if frames == 0 {
		return 0
	}
	return float64(voiced) / float64(frames)
}

func bytesToInt16(pcm []byte) []int16 {
	if len(pcm)%2 != 0 {
		return nil
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		// #nosec G115 - reinterpreting the bits of a little-endian sample
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func calculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range samples {
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func calculateZeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
