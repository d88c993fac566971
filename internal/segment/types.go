// Package segment defines the timed caption segment produced by every
// collection mode and the builder that gates and groups them.
package segment

import (
	"time"
)

// SourceKind records how a segment's text was obtained.
type SourceKind string

const (
	// SourceManual is text read from a caption surface with authored captions.
	SourceManual SourceKind = "manual"
	// SourceReconstructed is text rebuilt from a cumulative auto-generated stream.
	SourceReconstructed SourceKind = "reconstructed"
	// SourceTranscribed is text returned by the transcription service.
	SourceTranscribed SourceKind = "transcribed"
)

// CaptionSegment is one cleaned, timed piece of text. Times are player
// seconds. Segments are never modified after creation.
type CaptionSegment struct {
	Start      float64    `json:"start"`
	End        float64    `json:"end"`
	Duration   float64    `json:"duration"`
	Text       string     `json:"text"`
	SourceKind SourceKind `json:"sourceKind"`
	CreatedAt  time.Time  `json:"createdAt"`

	// Group changes whenever a time gap (a seek) is detected; Chunk counts
	// fixed-duration grouping windows inside a group.
	Group int `json:"group"`
	Chunk int `json:"chunk"`
}
