package streamstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ehrlich-b/omnish/internal/errkind"
)

// Meta is the UTF-8 JSON content of meta.json, per spec §6.
type Meta struct {
	SessionID       string            `json:"session_id"`
	ParentSessionID *string           `json:"parent_session_id,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	Attrs           map[string]string `json:"attrs"`
}

// Dir returns the session directory path <base>/<ISO8601-start>_<session_id>/.
func Dir(base string, startedAt time.Time, sessionID string) string {
	return filepath.Join(base, startedAt.UTC().Format("2006-01-02T15:04:05.000Z")+"_"+sessionID)
}

func metaPath(dir string) string     { return filepath.Join(dir, "meta.json") }
func commandsPath(dir string) string { return filepath.Join(dir, "commands.json") }
func streamPath(dir string) string   { return filepath.Join(dir, "stream.bin") }

// StreamPath returns the stream.bin path within a session directory.
func StreamPath(dir string) string { return streamPath(dir) }

// EnsureDir creates dir (and its base) if absent.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errkind.New(errkind.Io, "streamstore.EnsureDir", err)
	}
	return nil
}

// WriteMeta overwrites meta.json with m.
func WriteMeta(dir string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errkind.New(errkind.Io, "streamstore.WriteMeta", err)
	}
	if err := os.WriteFile(metaPath(dir), data, 0644); err != nil {
		return errkind.New(errkind.Io, "streamstore.WriteMeta", err)
	}
	return nil
}

// ReadMeta loads meta.json.
func ReadMeta(dir string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(metaPath(dir))
	if err != nil {
		return m, errkind.New(errkind.Io, "streamstore.ReadMeta", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, errkind.New(errkind.Corrupt, "streamstore.ReadMeta", err)
	}
	return m, nil
}

// CommandRecordJSON mirrors framing.CommandRecord's on-disk shape (JSON
// tags) without importing framing, keeping streamstore dependency-free
// of the wire-protocol package.
type CommandRecordJSON struct {
	CommandID     string  `json:"command_id"`
	SessionID     string  `json:"session_id"`
	CommandLine   *string `json:"command_line,omitempty"`
	Cwd           *string `json:"cwd,omitempty"`
	StartedAtMs   int64   `json:"started_at"`
	EndedAtMs     *int64  `json:"ended_at,omitempty"`
	OutputSummary string  `json:"output_summary"`
	StreamOffset  uint64  `json:"stream_offset"`
	StreamLength  uint64  `json:"stream_length"`
	ExitCode      *int    `json:"exit_code,omitempty"`
}

// WriteCommands rewrites commands.json in full — the file is small, per
// spec §4.7 ("rewritten whole — file is small"), matching the teacher's
// SaveUserConfig/SaveProjectConfig whole-file-rewrite idiom
// (internal/config/config.go).
func WriteCommands(dir string, records []CommandRecordJSON) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errkind.New(errkind.Io, "streamstore.WriteCommands", err)
	}
	if err := os.WriteFile(commandsPath(dir), data, 0644); err != nil {
		return errkind.New(errkind.Io, "streamstore.WriteCommands", err)
	}
	return nil
}

// ReadCommands loads commands.json; a missing file is treated as empty.
func ReadCommands(dir string) ([]CommandRecordJSON, error) {
	data, err := os.ReadFile(commandsPath(dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.New(errkind.Io, "streamstore.ReadCommands", err)
	}
	var records []CommandRecordJSON
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errkind.New(errkind.Corrupt, "streamstore.ReadCommands", err)
	}
	return records, nil
}
