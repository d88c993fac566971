package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fankserver/caption-collector/internal/collector"
	"github.com/fankserver/caption-collector/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var collectOpts struct {
	mode         string
	chunk        time.Duration
	gap          time.Duration
	language     string
	pollInterval time.Duration
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one collection until Ctrl-C or the safety stop and print the result",
	Example: `  caption-collector collect --mode caption
  ffmpeg -i stream.m3u8 -f s16le -ac 1 -ar 16000 - | caption-collector collect --mode audio`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
		defer cancel()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.ctrl.Start(ctx, session.ParseMode(collectOpts.mode), collector.Options{
			ChunkDuration: collectOpts.chunk,
			ChunkGap:      collectOpts.gap,
			LanguageHint:  collectOpts.language,
		})
		if err != nil {
			return err
		}
		logrus.WithField("session_id", status.SessionID).Info("Collecting. Press CTRL-C to stop.")

		result, err := waitForResult(ctx, a.ctrl, collectOpts.pollInterval)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// waitForResult blocks until ctx is done, then stops the session. A safety
// stop ends the wait early and its stored result is returned.
func waitForResult(ctx context.Context, ctrl *collector.Controller, poll time.Duration) (collector.Result, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctrl.Stop()
		case <-ticker.C:
			if !ctrl.Status().IsActive {
				result, err := ctrl.Stop()
				if errors.Is(err, collector.ErrNotActive) {
					// the safety stop is still tearing down
					continue
				}
				return result, err
			}
		}
	}
}

func init() {
	collectCmd.Flags().StringVar(&collectOpts.mode, "mode", "caption", "collection mode: caption or audio")
	collectCmd.Flags().DurationVar(&collectOpts.chunk, "chunk", 0, "audio chunk duration (default from config)")
	collectCmd.Flags().DurationVar(&collectOpts.gap, "gap", 0, "pause between audio chunks (default from config)")
	collectCmd.Flags().StringVar(&collectOpts.language, "language", "", "language hint for transcription")
	collectCmd.Flags().DurationVar(&collectOpts.pollInterval, "poll", time.Second, "how often to check for a safety stop")
}
