package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/fankserver/caption-collector/internal/bot"
	"github.com/fankserver/caption-collector/internal/caption"
	"github.com/fankserver/caption-collector/internal/collector"
	"github.com/fankserver/caption-collector/internal/config"
	"github.com/fankserver/caption-collector/internal/feedback"
	"github.com/fankserver/caption-collector/internal/session"
	"github.com/fankserver/caption-collector/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

// app holds the long-lived pieces every command builds the same way.
type app struct {
	cfg    config.Config
	ctrl   *collector.Controller
	events *feedback.EventBus
	closer []func()
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, events: feedback.NewEventBus(256)}
	a.closer = append(a.closer, a.events.Stop)
	a.events.SubscribeAll(logEvent)

	deps := collector.Dependencies{
		Probes:   a.probeFactory(),
		Sessions: session.NewManager(cfg.ExportDir),
		Events:   a.events,
	}

	trans, err := transcriber.New(cfg.Transcriber())
	if err != nil {
		// caption mode still works without a transcriber
		logrus.WithError(err).Warn("Transcriber unavailable, audio mode disabled")
	} else {
		deps.Transcriber = trans
		a.closer = append(a.closer, func() {
			if err := trans.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close transcriber")
			}
		})
	}

	captures, err := a.captureFactory()
	if err != nil {
		a.Close()
		return nil, err
	}
	deps.Captures = captures

	a.ctrl = collector.New(cfg.Collector(), deps)
	return a, nil
}

func (a *app) probeFactory() collector.ProbeFactory {
	capture := a.cfg.Capture
	switch {
	case capture.RelayURL != "":
		return func(ctx context.Context) (caption.Probe, error) {
			probe, err := caption.DialRelay(ctx, capture.RelayURL)
			if err != nil {
				return nil, err
			}
			return probe, nil
		}
	case capture.PageURL != "" || capture.BrowserURL != "":
		return func(ctx context.Context) (caption.Probe, error) {
			probe, err := caption.NewBrowserProbe(caption.BrowserOptions{
				PageURL:    capture.PageURL,
				Selector:   capture.Selector,
				ControlURL: capture.BrowserURL,
			})
			if err != nil {
				return nil, err
			}
			return probe, nil
		}
	default:
		return nil
	}
}

func (a *app) captureFactory() (collector.CaptureFactory, error) {
	switch strings.ToLower(a.cfg.Audio.Source) {
	case "discord":
		d := a.cfg.Discord
		if d.Token == "" {
			return nil, fmt.Errorf("discord audio source needs DISCORD_TOKEN")
		}
		voiceBot, err := bot.New(d.Token, d.GuildID, d.ChannelID)
		if err != nil {
			return nil, err
		}
		if err := voiceBot.Connect(); err != nil {
			return nil, fmt.Errorf("error connecting to Discord: %w", err)
		}
		a.closer = append(a.closer, func() {
			if err := voiceBot.Disconnect(); err != nil {
				logrus.WithError(err).Warn("Failed to disconnect voice bot")
			}
		})
		logrus.Info("Connected to Discord")
		return func(context.Context) (audio.Capture, error) { return voiceBot, nil }, nil
	default:
		format := audio.Format{SampleRate: a.cfg.Audio.SampleRate, Channels: 1}
		return func(context.Context) (audio.Capture, error) {
			return audio.NewReaderCapture(os.Stdin, format), nil
		}, nil
	}
}

// Close stops any running session and releases resources in reverse order.
func (a *app) Close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	for i := len(a.closer) - 1; i >= 0; i-- {
		a.closer[i]()
	}
	a.closer = nil
}

func logEvent(event feedback.Event) {
	entry := logrus.WithFields(logrus.Fields{
		"event":      event.Type,
		"session_id": event.SessionID,
	})
	switch data := event.Data.(type) {
	case feedback.SegmentData:
		entry.WithFields(logrus.Fields{
			"start":       data.Start,
			"source_kind": data.SourceKind,
			"decision":    data.Decision,
			"text":        data.Text,
		}).Debug("Segment event")
	case feedback.TranscriptionData:
		entry.WithFields(logrus.Fields{
			"task_id":     data.TaskID,
			"chunk_start": data.ChunkStart,
			"reason":      data.Reason,
		}).Debug("Transcription event")
	case feedback.SweepData:
		entry.WithFields(logrus.Fields{
			"segments_trimmed": data.SegmentsTrimmed,
			"chunks_trimmed":   data.ChunksTrimmed,
			"tasks_purged":     data.TasksPurged,
		}).Debug("Memory swept")
	case feedback.SessionData:
		entry.WithFields(logrus.Fields{
			"mode":     data.Mode,
			"segments": data.SegmentCount,
			"reason":   data.Reason,
		}).Info("Session event")
	}
}
