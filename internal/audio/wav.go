package audio

import (
	"encoding/binary"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// EncodeWAV wraps s16le PCM in a RIFF WAV container.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format %+v", f)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		// #nosec G115 - reinterpreting the bits of a little-endian sample
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	out := &writerseeker.WriterSeeker{}
	encoder := wav.NewEncoder(out, f.SampleRate, 16, f.Channels, 1)
	if err := encoder.Write(buf); err != nil {
		return nil, fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encoder close: %w", err)
	}

	data, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading wav into memory: %w", err)
	}
	return data, nil
}

// Resample converts interleaved int16 PCM to mono at targetRate. Channels
// are averaged and the rate is reduced by averaging whole blocks, so
// targetRate should divide the source rate.
func Resample(pcm []int16, from Format, targetRate int) []byte {
	if from.Channels <= 0 || from.SampleRate <= 0 || targetRate <= 0 {
		return nil
	}
	factor := from.SampleRate / targetRate
	if factor < 1 {
		factor = 1
	}

	frames := len(pcm) / from.Channels
	out := make([]byte, 0, (frames/factor)*2)
	for start := 0; start+factor <= frames; start += factor {
		var sum int
		for f := start; f < start+factor; f++ {
			for c := 0; c < from.Channels; c++ {
				sum += int(pcm[f*from.Channels+c])
			}
		}
		v := sum / (factor * from.Channels)
		// #nosec G115 - average of int16 values stays in int16 range
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
	}
	return out
}
