package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// DefaultFormat is 16kHz mono, what speech models expect.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Capture is an audio input capability.
type Capture interface {
	// Open acquires the input. The returned stream delivers PCM frames until
	// it is closed or the input ends.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open audio input.
type Stream interface {
	Format() Format
	Frames() <-chan []byte
	Close() error
}

// ReaderCapture captures raw PCM from a reader, e.g. the stdout of
// `ffmpeg -f s16le -ac 1 -ar 16000 -`.
type ReaderCapture struct {
	Reader    io.Reader
	PCMFormat Format
	// FrameDuration in milliseconds; 20ms when zero.
	FrameMs int
}

// NewReaderCapture creates a capture reading PCM in format f from r.
func NewReaderCapture(r io.Reader, f Format) *ReaderCapture {
	return &ReaderCapture{Reader: r, PCMFormat: f, FrameMs: 20}
}

// Open starts reading frames in the background.
func (c *ReaderCapture) Open(ctx context.Context) (Stream, error) {
	if c.Reader == nil {
		return nil, errors.New("no audio reader configured")
	}
	if c.PCMFormat.SampleRate <= 0 || c.PCMFormat.Channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format %+v", c.PCMFormat)
	}
	frameMs := c.FrameMs
	if frameMs <= 0 {
		frameMs = 20
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &readerStream{
		format: c.PCMFormat,
		frames: make(chan []byte, 50),
		cancel: cancel,
	}
	frameBytes := c.PCMFormat.BytesPerSecond() * frameMs / 1000
	// keep whole samples
	frameBytes -= frameBytes % (2 * c.PCMFormat.Channels)

	s.wg.Add(1)
	go s.read(ctx, c.Reader, frameBytes)
	return s, nil
}

type readerStream struct {
	format Format
	frames chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *readerStream) read(ctx context.Context, r io.Reader, frameBytes int) {
	defer s.wg.Done()
	defer close(s.frames)

	for {
		frame := make([]byte, frameBytes)
		n, err := io.ReadFull(r, frame)
		if n > 0 {
			n -= n % 2
			select {
			case s.frames <- frame[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				logrus.WithError(err).Warn("Audio reader failed")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *readerStream) Format() Format        { return s.format }
func (s *readerStream) Frames() <-chan []byte { return s.frames }

// Close stops the reader goroutine. A reader blocked in Read is left to the
// owner of the reader to close.
func (s *readerStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}
