package collector

import (
	"github.com/fankserver/caption-collector/internal/feedback"
	"github.com/fankserver/caption-collector/internal/segment"
)

// sink appends to the run's session through its builder and reports the
// outcome on the event bus.
type sink struct {
	c *Controller
	r *run
}

// Append implements caption.Sink with the builder's default duration.
func (s *sink) Append(text string, timestamp float64, kind segment.SourceKind) segment.Decision {
	return s.AppendWithDuration(text, timestamp, kind, 0)
}

// AppendWithDuration admits a candidate with an explicit duration.
func (s *sink) AppendWithDuration(text string, timestamp float64, kind segment.SourceKind, duration float64) segment.Decision {
	seg, decision := s.r.session.Admit(s.r.builder, text, timestamp, duration, kind)

	events := s.c.deps.Events
	if events == nil || decision == segment.DecisionEmpty {
		return decision
	}
	data := feedback.SegmentData{
		Text:       text,
		Start:      timestamp,
		SourceKind: string(kind),
		Decision:   decision.String(),
	}
	eventType := feedback.EventSegmentRejected
	if decision.Accepted() {
		eventType = feedback.EventSegmentAdded
		data.Text = seg.Text
		data.Group = seg.Group
		data.Chunk = seg.Chunk
	}
	events.PublishSegment(eventType, s.r.session.ID, data)
	return decision
}

// SetAutoGenerated implements caption.Sink.
func (s *sink) SetAutoGenerated(auto bool) {
	s.r.builder.SetAutoGenerated(auto)
}
