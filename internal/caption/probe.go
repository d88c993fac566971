// Package caption samples a live caption surface and turns its cumulative,
// overlapping reads into clean caption segments.
package caption

import (
	"context"
	"errors"
	"sync"
)

// ErrNoCaptionSurface is returned by Check when no captions can be found.
var ErrNoCaptionSurface = errors.New("no caption surface found")

// Probe is the capability to read the caption surface and the player clock.
type Probe interface {
	// Check verifies the caption surface is reachable.
	Check(ctx context.Context) error
	// SampleCaptionText returns the currently rendered caption text. ok is
	// false when nothing is displayed.
	SampleCaptionText(ctx context.Context) (text string, ok bool, err error)
	// CurrentPlaybackTime returns the player position in seconds.
	CurrentPlaybackTime(ctx context.Context) (float64, error)
}

// StaticProbe returns whatever was last Set. Replays and tests drive it.
type StaticProbe struct {
	mu       sync.Mutex
	text     string
	present  bool
	playback float64
	checkErr error
}

// NewStaticProbe creates a probe with nothing displayed.
func NewStaticProbe() *StaticProbe {
	return &StaticProbe{}
}

// Set displays text at playback time t.
func (p *StaticProbe) Set(text string, t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text = text
	p.present = true
	p.playback = t
}

// Clear removes the displayed caption but keeps the clock.
func (p *StaticProbe) Clear(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text = ""
	p.present = false
	p.playback = t
}

// FailCheck makes Check return err.
func (p *StaticProbe) FailCheck(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkErr = err
}

func (p *StaticProbe) Check(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkErr
}

func (p *StaticProbe) SampleCaptionText(context.Context) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text, p.present, nil
}

func (p *StaticProbe) CurrentPlaybackTime(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playback, nil
}
