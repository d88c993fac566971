package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fankserver/caption-collector/internal/segment"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Manager keeps every collection session created by this process so ended
// sessions can still be listed and exported.
type Manager struct {
	sessions  map[string]*Session
	exportDir string
	mu        sync.RWMutex
}

// Summary is the listing view of a session.
type Summary struct {
	ID           string     `json:"id"`
	Mode         Mode       `json:"mode"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	IsActive     bool       `json:"isActive"`
	StopReason   StopReason `json:"stopReason,omitempty"`
	SegmentCount int        `json:"segmentCount"`
}

// NewManager creates a new session manager exporting into exportDir.
func NewManager(exportDir string) *Manager {
	if exportDir == "" {
		exportDir = "exports"
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		exportDir: exportDir,
	}
}

// CreateSession creates and registers a new active session.
func (m *Manager) CreateSession(mode Mode, maxSegments int, startedAt time.Time) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := newSession(uuid.New().String(), mode, maxSegments, startedAt)
	m.sessions[s.ID] = s
	return s
}

// GetSession retrieves a session by ID.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return s, nil
}

// ListSessions returns all sessions, oldest first.
func (m *Manager) ListSessions() []Summary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// exportDoc is the on-disk shape of an exported session.
type exportDoc struct {
	Summary
	Segments []segment.CaptionSegment `json:"segments"`
}

// ExportSession writes a session to a JSON file and returns its path.
func (m *Manager) ExportSession(sessionID string) (string, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}

	// #nosec G301 - Export directory needs to be readable for serving files
	if err := os.MkdirAll(m.exportDir, 0750); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	summary := s.Summary()
	filename := fmt.Sprintf("session_%s_%s.json", summary.ID, summary.StartedAt.Format("20060102_150405"))
	path := filepath.Join(m.exportDir, filename)

	data, err := json.MarshalIndent(exportDoc{Summary: summary, Segments: s.Segments()}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling session: %w", err)
	}

	// #nosec G306 - Export files need to be readable by the user
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}
	return path, nil
}
