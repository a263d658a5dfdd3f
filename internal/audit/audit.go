// Package audit keeps an append-only event log of lifecycle operations in
// a SQLite database under the tool directory. The log is observability
// only: nothing in the certification state machine reads it back, and a
// failed write never fails the operation that produced it.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the audit database file under the tool directory.
const FileName = "audit.db"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at        TEXT NOT NULL,
	operation TEXT NOT NULL,
	actor     TEXT NOT NULL DEFAULT '',
	artifact  TEXT NOT NULL DEFAULT '',
	detail    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_artifact ON events(artifact);
`

// Event is one recorded lifecycle operation.
type Event struct {
	ID        int64
	At        string
	Operation string
	Actor     string
	Artifact  string
	Detail    string
}

// Log is an append-only SQLite event log.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the audit database at path, creating the parent
// directory if needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Log{db: db, now: time.Now}, nil
}

// OpenMemory opens an in-memory log, used by tests.
func OpenMemory() (*Log, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Log{db: db, now: time.Now}, nil
}

// Record appends one event.
func (l *Log) Record(operation, actor, artifact, detail string) error {
	_, err := l.db.Exec(
		"INSERT INTO events(at, operation, actor, artifact, detail) VALUES(?,?,?,?,?)",
		l.now().UTC().Format(time.RFC3339), operation, actor, artifact, detail,
	)
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", operation, err)
	}
	return nil
}

// Recent returns the newest events, most recent first.
func (l *Log) Recent(limit int) ([]Event, error) {
	rows, err := l.db.Query(
		"SELECT id, at, operation, actor, artifact, detail FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.At, &e.Operation, &e.Actor, &e.Artifact, &e.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
