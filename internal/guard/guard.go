// Package guard bounds the memory of a running collection session and
// force-stops sessions that outlive their ceiling.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// SegmentTrimmer caps a segment list.
type SegmentTrimmer interface {
	Trim(max int) int
}

// HistoryTrimmer keeps only the newest chunk records.
type HistoryTrimmer interface {
	TrimHistory(keep int) int
}

// TaskPurger drops tracked tasks older than an age.
type TaskPurger interface {
	PurgeOlderThan(age time.Duration) int
}

// Config holds the guard limits.
type Config struct {
	Interval       time.Duration
	MaxSegments    int
	ChunkHistory   int
	TaskMaxAge     time.Duration
	SessionCeiling time.Duration
}

// DefaultConfig sweeps every 30s and stops sessions after 120s.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		MaxSegments:    100,
		ChunkHistory:   2,
		TaskMaxAge:     2 * time.Minute,
		SessionCeiling: 120 * time.Second,
	}
}

// SweepResult counts what one sweep removed.
type SweepResult struct {
	SegmentsTrimmed int
	ChunksTrimmed   int
	TasksPurged     int
}

// Empty reports whether the sweep removed nothing.
func (r SweepResult) Empty() bool {
	return r.SegmentsTrimmed == 0 && r.ChunksTrimmed == 0 && r.TasksPurged == 0
}

// Targets are what the guard sweeps. Chunks and Tasks are nil outside audio
// mode.
type Targets struct {
	Segments SegmentTrimmer
	Chunks   HistoryTrimmer
	Tasks    TaskPurger
}

// Guard runs the periodic sweep and the safety timer.
type Guard struct {
	config  Config
	clock   clockwork.Clock
	targets Targets

	onSweep      func(SweepResult)
	onSafetyStop func()

	mu     sync.Mutex
	timer  clockwork.Timer
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a guard. onSweep is called after sweeps that removed
// something; onSafetyStop once the session ceiling is reached.
func New(config Config, clock clockwork.Clock, targets Targets, onSweep func(SweepResult), onSafetyStop func()) *Guard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guard{
		config:       config,
		clock:        clock,
		targets:      targets,
		onSweep:      onSweep,
		onSafetyStop: onSafetyStop,
	}
}

// Start arms the safety timer and begins sweeping.
func (g *Guard) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}

	if g.config.SessionCeiling > 0 && g.onSafetyStop != nil {
		g.timer = g.clock.AfterFunc(g.config.SessionCeiling, func() {
			logrus.WithField("ceiling", g.config.SessionCeiling).Warn("Session ceiling reached, forcing stop")
			g.onSafetyStop()
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	if g.config.Interval > 0 {
		g.wg.Add(1)
		go g.run(ctx)
	}
}

func (g *Guard) run(ctx context.Context) {
	defer g.wg.Done()
	ticker := g.clock.NewTicker(g.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			result := g.Sweep()
			if !result.Empty() && g.onSweep != nil {
				g.onSweep(result)
			}
		}
	}
}

// Sweep trims every target once.
func (g *Guard) Sweep() SweepResult {
	var r SweepResult
	if g.targets.Segments != nil && g.config.MaxSegments > 0 {
		r.SegmentsTrimmed = g.targets.Segments.Trim(g.config.MaxSegments)
	}
	if g.targets.Chunks != nil {
		r.ChunksTrimmed = g.targets.Chunks.TrimHistory(g.config.ChunkHistory)
	}
	if g.targets.Tasks != nil && g.config.TaskMaxAge > 0 {
		r.TasksPurged = g.targets.Tasks.PurgeOlderThan(g.config.TaskMaxAge)
	}

	if !r.Empty() {
		logrus.WithFields(logrus.Fields{
			"segments_trimmed": r.SegmentsTrimmed,
			"chunks_trimmed":   r.ChunksTrimmed,
			"tasks_purged":     r.TasksPurged,
		}).Info("Memory sweep")
	}
	return r
}

// Stop disarms the timer and ends the sweep loop. It may be called from the
// safety stop callback.
func (g *Guard) Stop() {
	g.mu.Lock()
	timer, cancel := g.timer, g.cancel
	g.timer, g.cancel = nil, nil
	g.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	g.wg.Wait()
}
