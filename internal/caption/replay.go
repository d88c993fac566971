package caption

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jonboulle/clockwork"
)

// Read is one recorded observation of a caption surface.
type Read struct {
	Text string  `json:"text"`
	Time float64 `json:"time"`
}

// ParseReads decodes one JSON Read per line. Blank lines are skipped.
func ParseReads(r io.Reader) ([]Read, error) {
	var reads []Read
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var read Read
		if err := json.Unmarshal([]byte(raw), &read); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		reads = append(reads, read)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return reads, nil
}

// Replay runs recorded reads through a sampler one interval apart on a fake
// clock and flushes at the end, so a session can be reproduced offline.
func Replay(ctx context.Context, reads []Read, sink Sink, config SamplerConfig) error {
	clock := clockwork.NewFakeClock()
	probe := NewStaticProbe()
	sampler := NewSampler(probe, sink, clock, config)

	for _, read := range reads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if read.Text == "" {
			probe.Clear(read.Time)
		} else {
			probe.Set(read.Text, read.Time)
		}
		clock.Advance(sampler.config.Interval)
		if err := sampler.Step(ctx); err != nil {
			return err
		}
	}
	sampler.Flush()
	return nil
}
