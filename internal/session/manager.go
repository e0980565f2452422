package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/omnish/internal/errkind"
	"github.com/ehrlich-b/omnish/internal/streamstore"
	"github.com/ehrlich-b/omnish/internal/tracker"
)

// Direction re-exports streamstore.Direction so callers of this package
// need not import streamstore directly.
type Direction = streamstore.Direction

const (
	DirInput  = streamstore.DirInput
	DirOutput = streamstore.DirOutput
)

// Session is one active PTY session's server-side state: its on-disk
// stream, its command tracker, and its in-memory command list, all
// guarded by mu (spec §4.7/§5: "each session mutably owned behind a
// single mutex").
type Session struct {
	SessionID       string
	ParentSessionID *string
	Attrs           map[string]string
	StartedAt       time.Time
	LastActiveAt    time.Time
	EndedAt         *time.Time

	dir      string
	mu       sync.Mutex
	writer   *streamstore.Writer
	tracker  *tracker.Tracker
	detector *EventDetector
	commands []streamstore.CommandRecordJSON
}

// Dir returns the session's on-disk directory.
func (s *Session) Dir() string { return s.dir }

// Manager is the server-side active-session registry (spec §4.7).
type Manager struct {
	BaseDir string
	Logger  *slog.Logger
	NewID   func() string
	Trigger AutoTriggerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a Manager rooted at baseDir, where each session
// gets its own `<ISO8601>_<session_id>/` directory per spec §6.
func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		BaseDir:  baseDir,
		Logger:   logger,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) logger() *slog.Logger { return m.Logger }

// Register creates (or re-registers) a session, per spec §4.7:
// idempotent, creates the directory if absent, writes meta.json, and
// inserts into the active map. Re-registration updates attrs and
// touches last-active.
func (m *Manager) Register(sessionID string, parentSessionID *string, attrs map[string]string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		s.mu.Lock()
		s.Attrs = attrs
		s.LastActiveAt = now
		s.mu.Unlock()
		if err := m.writeMeta(s); err != nil {
			return nil, err
		}
		return s, nil
	}

	dir := streamstore.Dir(m.BaseDir, now, sessionID)
	if err := streamstore.EnsureDir(dir); err != nil {
		return nil, err
	}
	writer, err := streamstore.OpenWriter(streamstore.StreamPath(dir))
	if err != nil {
		return nil, err
	}
	tr, err := tracker.New(sessionID, m.idFunc())
	if err != nil {
		return nil, err
	}
	detector, err := NewEventDetector(m.Trigger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		SessionID:       sessionID,
		ParentSessionID: parentSessionID,
		Attrs:           attrs,
		StartedAt:       now,
		LastActiveAt:    now,
		dir:             dir,
		writer:          writer,
		tracker:         tr,
		detector:        detector,
	}
	if err := m.writeMeta(s); err != nil {
		writer.Close()
		return nil, err
	}
	m.sessions[sessionID] = s
	m.logger().Info("session registered", "session_id", sessionID, "dir", dir)
	return s, nil
}

func (m *Manager) idFunc() tracker.IDFunc {
	if m.NewID != nil {
		return m.NewID
	}
	return nil
}

func (m *Manager) writeMeta(s *Session) error {
	s.mu.Lock()
	meta := streamstore.Meta{
		SessionID:       s.SessionID,
		ParentSessionID: s.ParentSessionID,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		Attrs:           s.Attrs,
	}
	dir := s.dir
	s.mu.Unlock()
	return streamstore.WriteMeta(dir, meta)
}

// Get returns the active session for sessionID, if any.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// WriteIO appends one stream entry, updates last-active, and feeds the
// command tracker and event detector, per spec §4.7/§4.8.
func (m *Manager) WriteIO(sessionID string, tsMs int64, dir Direction, data []byte, now time.Time) ([]streamstore.CommandRecordJSON, []DetectedEvent, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return nil, nil, errkind.New(errkind.NotFound, "session.Manager.WriteIO", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.writer.Pos()
	if _, err := s.writer.WriteEntry(uint64(tsMs), dir, data); err != nil {
		return nil, nil, err
	}
	after := s.writer.Pos()
	s.LastActiveAt = now

	var newRecords []streamstore.CommandRecordJSON
	var events []DetectedEvent

	if dir == DirInput {
		s.tracker.FeedInput(tsMs, data)
	} else {
		// The tracker derives stream_offset/stream_length itself from the
		// output bytes it was just fed, so WriteIO never needs a
		// last-known-boundary checkpoint to complete a partial record —
		// see DESIGN.md's "receive_command substitution" note.
		recs := s.tracker.FeedOutput(tsMs, data, before, after)
		for _, r := range recs {
			jr := toCommandRecordJSON(r)
			s.commands = append(s.commands, jr)
			newRecords = append(newRecords, jr)
			if jr.ExitCode != nil {
				events = append(events, s.detector.CheckCommandComplete(*jr.ExitCode, now)...)
			}
		}
		events = append(events, s.detector.CheckOutput(data, now)...)
	}

	if len(newRecords) > 0 {
		if err := streamstore.WriteCommands(s.dir, s.commands); err != nil {
			return newRecords, events, err
		}
	}
	return newRecords, events, nil
}

func toCommandRecordJSON(r tracker.CommandRecord) streamstore.CommandRecordJSON {
	return streamstore.CommandRecordJSON{
		CommandID:     r.CommandID,
		SessionID:     r.SessionID,
		CommandLine:   r.CommandLine,
		Cwd:           r.Cwd,
		StartedAtMs:   r.StartedAtMs,
		EndedAtMs:     r.EndedAtMs,
		OutputSummary: r.OutputSummary,
		StreamOffset:  r.StreamOffset,
		StreamLength:  r.StreamLength,
		ExitCode:      r.ExitCode,
	}
}

// EndSession finalizes a session: sets ended_at, flushes meta, and
// removes it from the active map (on-disk data remains), per spec
// §4.7.
func (m *Manager) EndSession(sessionID string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return errkind.New(errkind.NotFound, "session.Manager.EndSession", nil)
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	s.mu.Lock()
	s.EndedAt = &now
	s.mu.Unlock()

	if err := m.writeMeta(s); err != nil {
		return err
	}

	// Close under s.mu: a WriteIO call that fetched s via Get just
	// before the delete above serializes on this same mutex before
	// touching s.writer, so closing it here too keeps the two from
	// racing on the same *os.File instead of Close() running unguarded
	// in parallel with a still-in-flight WriteEntry.
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}

// EvictInactive closes and removes sessions whose last-active is older
// than maxAge, per spec §4.7 ("called hourly").
func (m *Manager) EvictInactive(maxAge time.Duration, now time.Time) []string {
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		last := s.LastActiveAt
		s.mu.Unlock()
		if now.Sub(last) > maxAge {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.EndSession(id, now); err != nil {
			m.logger().Warn("evict_inactive: failed to end session", "session_id", id, "err", err)
		}
	}
	return stale
}

// CleanupExpiredDirs physically removes session directories under
// BaseDir whose encoded start time is older than maxAge, per spec
// §4.7's "longer threshold (default 48h)".
func (m *Manager) CleanupExpiredDirs(maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(m.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errkind.New(errkind.Io, "session.Manager.CleanupExpiredDirs", err)
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		startedAt, ok := parseDirStart(e.Name())
		if !ok {
			continue
		}
		if now.Sub(startedAt) <= maxAge {
			continue
		}
		full := filepath.Join(m.BaseDir, e.Name())
		if err := os.RemoveAll(full); err != nil {
			return removed, errkind.New(errkind.Io, "session.Manager.CleanupExpiredDirs", err)
		}
		removed = append(removed, full)
	}
	sort.Strings(removed)
	return removed, nil
}

// parseDirStart extracts the ISO8601 start timestamp encoded as the
// prefix of a session directory name (see streamstore.Dir).
func parseDirStart(name string) (time.Time, bool) {
	idx := strings.Index(name, "_")
	if idx <= 0 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02T15:04:05.000Z", name[:idx])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
