// SPDX-License-Identifier: LGPL-3.0-or-later

// Package auditlog is the engine's append-only side channel for
// servicing events — step starts/finishes, classification decisions,
// and boot-commit verdicts — kept separate from Host Status (the
// single current-state record datastore persists) so an operator can
// audit what happened across many servicing runs without the
// datastore file growing unbounded. Grounded on the teacher's
// SQLite-backed job store: same driver, same WAL-mode-on-open,
// CREATE-TABLE-IF-NOT-EXISTS schema bootstrap.
package auditlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event is one row appended to the audit log.
type Event struct {
	ID          int64
	Timestamp   time.Time
	ServicingID string // correlates every event from one stage/finalize/commit run
	Kind        string // e.g. "step-started", "step-failed", "commit", "rollback-observed"
	Step        string // empty for run-level events such as commit
	Detail      string
}

// Filter narrows List to a subset of events.
type Filter struct {
	ServicingID string
	Since       *time.Time
	Limit       int
}

// Log is a handle on the audit database.
type Log struct {
	db *sql.DB
}

// Open creates or opens the audit log at path, enabling WAL mode for
// concurrent readers the way the teacher's SQLiteStore does.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: enable WAL mode: %w", err)
	}

	l := &Log{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		servicing_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		step TEXT,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_servicing_id ON events(servicing_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("auditlog: create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append records one event.
func (l *Log) Append(e Event) error {
	_, err := l.db.Exec(
		`INSERT INTO events (timestamp, servicing_id, kind, step, detail) VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp, e.ServicingID, e.Kind, e.Step, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert event: %w", err)
	}
	return nil
}

// List returns events matching filter, most recent first.
func (l *Log) List(filter Filter) ([]Event, error) {
	query := `SELECT id, timestamp, servicing_id, kind, step, detail FROM events WHERE 1=1`
	var args []any

	if filter.ServicingID != "" {
		query += ` AND servicing_id = ?`
		args = append(args, filter.ServicingID)
	}
	if filter.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, *filter.Since)
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var step sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ServicingID, &e.Kind, &step, &e.Detail); err != nil {
			return nil, fmt.Errorf("auditlog: scan event: %w", err)
		}
		e.Step = step.String
		events = append(events, e)
	}
	return events, rows.Err()
}
