package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/fankserver/caption-collector/internal/caption"
	"github.com/fankserver/caption-collector/internal/config"
	"github.com/fankserver/caption-collector/internal/segment"
	"github.com/fankserver/caption-collector/internal/session"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay [file]",
	Short: "Run recorded caption reads (JSON lines of {text,time}) through the sampler",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		reads, err := caption.ParseReads(in)
		if err != nil {
			return err
		}

		cc := cfg.Collector()
		clock := clockwork.NewRealClock()
		manager := session.NewManager(cfg.ExportDir)
		sess := manager.CreateSession(session.ModeCaptionSampling, cc.Guard.MaxSegments, clock.Now())
		sink := &sessionSink{session: sess, builder: segment.NewBuilder(cc.Builder, clock)}

		if err := caption.Replay(cmd.Context(), reads, sink, cc.Sampler); err != nil {
			return err
		}
		sess.End(clock.Now(), session.StopRequested)

		segments := sess.Segments()
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Segments     []segment.CaptionSegment `json:"segments"`
			Consolidated []segment.CaptionSegment `json:"consolidated"`
		}{segments, segment.Consolidate(segments, time.Now())})
	},
}

// sessionSink feeds sampler output straight into a session.
type sessionSink struct {
	session *session.Session
	builder *segment.Builder
}

func (s *sessionSink) Append(text string, timestamp float64, kind segment.SourceKind) segment.Decision {
	_, decision := s.session.Admit(s.builder, text, timestamp, 0, kind)
	return decision
}

func (s *sessionSink) SetAutoGenerated(auto bool) {
	s.builder.SetAutoGenerated(auto)
}
