package textproc

import (
	"strings"
	"time"
)

const (
	// DefaultStabilityTimeout flushes a pending sentence that stopped growing.
	DefaultStabilityTimeout = 4 * time.Second
	// DefaultMaxPendingWords flushes a pending sentence that never ends.
	DefaultMaxPendingWords = 40
)

// Emission is a sentence released by the Reconstructor together with the
// playback time at which it started.
type Emission struct {
	Text  string
	Start float64
}

// Reconstructor rebuilds sentences from a cumulative caption stream whose
// reads overlap and rarely carry punctuation. Deltas accumulate into a
// pending sentence that is released at a sentence terminator, when it
// stops changing for StabilityTimeout, or when it exceeds MaxWords.
type Reconstructor struct {
	StabilityTimeout time.Duration
	MaxWords         int

	lastRead     string
	pending      string
	pendingStart float64
	lastChange   time.Time
}

// NewReconstructor returns a Reconstructor with default limits.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{
		StabilityTimeout: DefaultStabilityTimeout,
		MaxWords:         DefaultMaxPendingWords,
	}
}

// Feed merges a raw read observed at playback time and returns the
// sentences it completes.
func (r *Reconstructor) Feed(read string, playback float64, now time.Time) []Emission {
	delta := strings.TrimSpace(Extract(r.lastRead, read))
	r.lastRead = read
	if delta != "" {
		if r.pending == "" {
			r.pendingStart = playback
			r.pending = delta
		} else {
			r.pending = joinPending(r.pending, delta)
		}
		r.lastChange = now
	}

	out := r.releaseComplete()
	if r.pending != "" && WordCount(r.pending) >= r.MaxWords {
		out = append(out, r.flush()...)
	}
	if r.pending != "" && r.pendingStart < playback && len(out) > 0 {
		r.pendingStart = playback
	}
	return out
}

// Expire releases the pending sentence if it has been stable for longer than
// the stability timeout.
func (r *Reconstructor) Expire(now time.Time) []Emission {
	if r.pending == "" || r.lastChange.IsZero() {
		return nil
	}
	if now.Sub(r.lastChange) < r.StabilityTimeout {
		return nil
	}
	return r.flush()
}

// Flush releases whatever is pending.
func (r *Reconstructor) Flush() []Emission {
	return r.flush()
}

// Reset forgets the stream entirely; the next read is treated as new text.
func (r *Reconstructor) Reset() {
	r.lastRead = ""
	r.pending = ""
	r.pendingStart = 0
	r.lastChange = time.Time{}
}

// Prime sets the last observed read without emitting anything, so the next
// Feed only contributes what follows it.
func (r *Reconstructor) Prime(read string) {
	r.lastRead = read
}

// Pending returns the text waiting for a sentence boundary.
func (r *Reconstructor) Pending() string {
	return r.pending
}

// releaseComplete emits every finished sentence and keeps the unfinished
// tail pending.
func (r *Reconstructor) releaseComplete() []Emission {
	sentences := Sentences(r.pending)
	if len(sentences) == 0 {
		return nil
	}
	var out []Emission
	rest := ""
	for i, s := range sentences {
		if i == len(sentences)-1 && !EndsSentence(s) {
			rest = s
			break
		}
		out = append(out, Emission{Text: s, Start: r.pendingStart})
	}
	r.pending = rest
	return out
}

func (r *Reconstructor) flush() []Emission {
	text := strings.TrimSpace(r.pending)
	r.pending = ""
	if text == "" {
		return nil
	}
	return []Emission{{Text: text, Start: r.pendingStart}}
}

func joinPending(pending, delta string) string {
	if containsCJK(pending) && containsCJK(delta) && !strings.Contains(pending, " ") {
		return pending + delta
	}
	return pending + " " + delta
}
