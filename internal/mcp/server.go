package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fankserver/caption-collector/internal/collector"
	"github.com/fankserver/caption-collector/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

const (
	serverName    = "caption-collector"
	serverVersion = "0.1.0"
)

// Server exposes the collection controller as MCP tools.
type Server struct {
	ctrl      *collector.Controller
	mcpServer *mcp.Server
}

// StartCollectionInput are the start_collection arguments. Durations are
// in seconds; zero keeps the configured default.
type StartCollectionInput struct {
	Mode                   string  `json:"mode" jsonschema:"collection mode: caption or audio"`
	ChunkDuration          float64 `json:"chunkDuration,omitempty" jsonschema:"audio chunk length in seconds"`
	ChunkGap               float64 `json:"chunkGap,omitempty" jsonschema:"pause between audio chunks in seconds"`
	TimeSegmentThreshold   float64 `json:"timeSegmentThreshold,omitempty" jsonschema:"timestamp jump in seconds treated as a seek"`
	ChunkDurationThreshold float64 `json:"chunkDurationThreshold,omitempty" jsonschema:"grouping window in seconds"`
	LanguageHint           string  `json:"languageHint,omitempty" jsonschema:"language code passed to transcription"`
}

// ExportSessionInput are the export_session arguments.
type ExportSessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"the session to export"`
}

// EmptyInput for tools without arguments.
type EmptyInput struct{}

// NewServer creates a new MCP server with the collection tools registered.
func NewServer(ctrl *collector.Controller) *Server {
	s := &Server{
		ctrl: ctrl,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "start_collection",
		Description: "Start collecting timed text from live captions (mode caption) or transcribed audio chunks (mode audio)",
	}, s.handleStartCollection)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "stop_collection",
		Description: "Stop the active collection and return its segments",
	}, s.handleStopCollection)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "collection_status",
		Description: "Report whether a collection is running and how much it has collected",
	}, s.handleCollectionStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List all collection sessions of this process",
	}, s.handleListSessions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_session",
		Description: "Export a session's segments to a JSON file",
	}, s.handleExportSession)
}

// Run serves MCP over stdio until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	logrus.Info("MCP server starting on stdio")
	return s.mcpServer.Run(ctx, mcp.NewStdioTransport())
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	r := textResult(text)
	r.IsError = true
	return r
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (s *Server) handleStartCollection(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[StartCollectionInput]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	mode := session.ParseMode(args.Mode)
	status, err := s.ctrl.Start(ctx, mode, collector.Options{
		ChunkDuration:          seconds(args.ChunkDuration),
		ChunkGap:               seconds(args.ChunkGap),
		TimeSegmentThreshold:   args.TimeSegmentThreshold,
		ChunkDurationThreshold: args.ChunkDurationThreshold,
		LanguageHint:           args.LanguageHint,
	})
	switch {
	case errors.Is(err, collector.ErrAlreadyActive):
		return errorResult("A collection is already running. Stop it first."), nil
	case errors.Is(err, collector.ErrUnknownMode):
		return errorResult(fmt.Sprintf("Unknown mode %q. Use caption or audio.", args.Mode)), nil
	case errors.Is(err, collector.ErrCaptionUnavailable), errors.Is(err, collector.ErrAudioUnavailable):
		return errorResult(err.Error()), nil
	case err != nil:
		return nil, fmt.Errorf("failed to start collection: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"session_id": status.SessionID,
		"mode":       status.Mode,
	}).Info("Collection started via MCP")
	return textResult(fmt.Sprintf("Started %s collection, session %s", status.Mode, status.SessionID)), nil
}

func (s *Server) handleStopCollection(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	result, err := s.ctrl.Stop()
	if errors.Is(err, collector.ErrNotActive) {
		return textResult("No collection is running."), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stop collection: %w", err)
	}

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stopped session %s (%s) after %.1fs: %d segment(s), %d consolidated",
		result.SessionID, result.Reason, result.DurationSeconds, len(result.Segments), len(result.Consolidated))
	b.WriteString("\n\n")
	b.Write(body)
	return textResult(b.String()), nil
}

func (s *Server) handleCollectionStatus(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	status := s.ctrl.Status()
	if !status.IsActive {
		return textResult("Collection Status:\n- Active: false"), nil
	}

	var b strings.Builder
	b.WriteString("Collection Status:\n")
	fmt.Fprintf(&b, "- Active: %v\n", status.IsActive)
	fmt.Fprintf(&b, "- Session: %s\n", status.SessionID)
	fmt.Fprintf(&b, "- Mode: %s\n", status.Mode)
	fmt.Fprintf(&b, "- Segments: %d\n", status.SegmentCount)
	fmt.Fprintf(&b, "- Elapsed: %.1fs\n", status.ElapsedSeconds)
	fmt.Fprintf(&b, "- Rejected: %d\n", status.Rejected)
	if status.Stream != nil {
		fmt.Fprintf(&b, "- Auto-generated captions: %v (score %.2f)\n", status.Stream.AutoGenerated, status.Stream.Score)
	}
	if status.Transcription != nil {
		fmt.Fprintf(&b, "- Chunks: %d queued, %d accepted, %d rejected, %d failed, %d dropped\n",
			status.Transcription.ChunksQueued, status.Transcription.ChunksAccepted,
			status.Transcription.ChunksRejected, status.Transcription.ChunksFailed,
			status.Transcription.ChunksDropped)
		fmt.Fprintf(&b, "- Waiting chunks: %d, tracked tasks: %d\n", status.QueueDepth, status.TrackedTasks)
	}
	if status.RecorderState != "" {
		fmt.Fprintf(&b, "- Recorder: %s\n", status.RecorderState)
	}
	if status.Capture != nil {
		fmt.Fprintf(&b, "- Capture: %v\n", status.Capture)
	}
	return textResult(b.String()), nil
}

func (s *Server) handleListSessions(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	sessions := s.ctrl.Sessions().ListSessions()
	if len(sessions) == 0 {
		return textResult("No sessions found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d session(s):\n", len(sessions))
	for _, sum := range sessions {
		state := "ended"
		if sum.IsActive {
			state = "active"
		} else if sum.StopReason != "" {
			state = string(sum.StopReason)
		}
		fmt.Fprintf(&b, "- %s: %s, started %s, %d segment(s), %s\n",
			sum.ID, sum.Mode, sum.StartedAt.Format(time.RFC3339), sum.SegmentCount, state)
	}
	return textResult(b.String()), nil
}

func (s *Server) handleExportSession(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[ExportSessionInput]) (*mcp.CallToolResultFor[any], error) {
	path, err := s.ctrl.Sessions().ExportSession(params.Arguments.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to export session: %w", err)
	}
	return textResult(fmt.Sprintf("Session exported to: %s", path)), nil
}
