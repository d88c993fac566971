package caption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrRelayClosed is returned once the relay connection has ended.
var ErrRelayClosed = errors.New("caption relay closed")

// relayFrame is one caption update pushed by a relay, e.g. a browser
// extension forwarding what the player renders.
type relayFrame struct {
	Text string  `json:"text"`
	Time float64 `json:"time"`
}

// RelayProbe keeps the latest caption frame received over a WebSocket.
type RelayProbe struct {
	conn *websocket.Conn

	mu       sync.RWMutex
	text     string
	present  bool
	playback float64
	err      error
	done     chan struct{}
}

// DialRelay connects to a caption relay and starts reading frames.
func DialRelay(ctx context.Context, url string) (*RelayProbe, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial caption relay: %w", err)
	}
	p := &RelayProbe{conn: conn, done: make(chan struct{})}
	go p.readLoop()

	logrus.WithField("url", url).Info("Caption relay connected")
	return p, nil
}

func (p *RelayProbe) readLoop() {
	defer close(p.done)
	for {
		var frame relayFrame
		if err := p.conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				logrus.WithError(err).Debug("Skipping malformed relay frame")
				continue
			}
			p.mu.Lock()
			p.err = ErrRelayClosed
			p.mu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Warn("Caption relay read failed")
			}
			return
		}

		p.mu.Lock()
		p.text = frame.Text
		p.present = frame.Text != ""
		p.playback = frame.Time
		p.mu.Unlock()
	}
}

func (p *RelayProbe) Check(context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *RelayProbe) SampleCaptionText(context.Context) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return "", false, p.err
	}
	return p.text, p.present, nil
}

func (p *RelayProbe) CurrentPlaybackTime(context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.playback, nil
}

// Close ends the connection and waits for the reader to exit.
func (p *RelayProbe) Close() error {
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := p.conn.Close()
	<-p.done
	return err
}
