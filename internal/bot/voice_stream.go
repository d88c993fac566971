package bot

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

const (
	// Discord sends 20ms opus frames of 48kHz stereo
	discordRate     = 48000
	discordChannels = 2
	frameSize       = 960
	// packets of 3 bytes or less are silence markers
	silencePacket = 3
)

var discordFormat = audio.Format{SampleRate: discordRate, Channels: discordChannels}

type opusDecoder interface {
	Decode(data []byte, frameSize int, fec bool) ([]int16, error)
}

func newOpusDecoder() (opusDecoder, error) {
	decoder, err := gopus.NewDecoder(discordRate, discordChannels)
	if err != nil {
		return nil, err
	}
	return decoder, nil
}

// voiceStream decodes voice packets into 16kHz mono frames. Each speaker
// (SSRC) gets its own decoder since opus decoding is stateful; frames of
// all speakers are emitted in arrival order.
type voiceStream struct {
	frames     chan []byte
	cancel     context.CancelFunc
	done       chan struct{}
	onClose    func()
	closeOnce  sync.Once
	newDecoder func() (opusDecoder, error)
	decoders   map[uint32]opusDecoder
}

func newVoiceStream(ctx context.Context, packets <-chan *discordgo.Packet, newDecoder func() (opusDecoder, error), onClose func()) *voiceStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &voiceStream{
		frames:     make(chan []byte, 50),
		cancel:     cancel,
		done:       make(chan struct{}),
		onClose:    onClose,
		newDecoder: newDecoder,
		decoders:   make(map[uint32]opusDecoder),
	}
	go s.receive(ctx, packets)
	return s
}

func (s *voiceStream) receive(ctx context.Context, packets <-chan *discordgo.Packet) {
	defer close(s.done)
	defer close(s.frames)

	packetCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-packets:
			if !ok {
				logrus.Info("Voice receive channel closed")
				return
			}
			packetCount++
			if packetCount%500 == 0 {
				logrus.WithField("packets_received", packetCount).Debug("Voice packets received")
			}

			frame := s.decode(packet)
			if frame == nil {
				continue
			}
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return
			default:
				logrus.WithField("ssrc", packet.SSRC).Debug("Frame consumer behind, dropping voice frame")
			}
		}
	}
}

func (s *voiceStream) decode(packet *discordgo.Packet) []byte {
	if packet == nil || len(packet.Opus) <= silencePacket {
		return nil
	}
	decoder, ok := s.decoders[packet.SSRC]
	if !ok {
		var err error
		decoder, err = s.newDecoder()
		if err != nil {
			logrus.WithError(err).Error("Error creating opus decoder")
			return nil
		}
		s.decoders[packet.SSRC] = decoder
	}
	pcm, err := decoder.Decode(packet.Opus, frameSize, false)
	if err != nil {
		logrus.WithError(err).WithField("ssrc", packet.SSRC).Debug("Error decoding opus")
		return nil
	}
	return audio.Resample(pcm, discordFormat, audio.DefaultFormat.SampleRate)
}

func (s *voiceStream) Format() audio.Format  { return audio.DefaultFormat }
func (s *voiceStream) Frames() <-chan []byte { return s.frames }

func (s *voiceStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}
