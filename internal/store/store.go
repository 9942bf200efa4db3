// Package store persists the Journal, ResourceAccount and health events in a
// local sqlite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite connection backing the Journal and resource ledger.
type Store struct {
	db *sql.DB
}

// Event is the universal journaled record (§3).
type Event struct {
	ID          int64
	Timestamp   time.Time
	Kind        string // evolution, conversation, reflection, reflex, journal
	Action      string
	TargetPath  string
	Description string
	Status      string // success, failed, skipped
	Error       string
	EmbeddingID string
	Metadata    map[string]any
}

// HealthEvent is an out-of-band health/crash notification.
type HealthEvent struct {
	ID        int64
	EventType string
	Details   string
	CreatedAt time.Time
}

// ResourceLedgerRow is one closed daily ResourceAccount tally.
type ResourceLedgerRow struct {
	DayStart     time.Time
	InputTokens  int
	OutputTokens int
	EstimatedCost float64
	CallCount    int
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	kind TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT '',
	target_path TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	embedding_id TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);

CREATE TABLE IF NOT EXISTS health_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	event_type TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_health_events_created_at ON health_events(created_at);

CREATE TABLE IF NOT EXISTS resource_ledger (
	day_start DATETIME PRIMARY KEY,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	estimated_cost REAL NOT NULL DEFAULT 0,
	call_count INTEGER NOT NULL DEFAULT 0
);
`

// Open opens (creating if absent) the sqlite-backed store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// AppendEvent appends an Event to the Journal. Events are never mutated once
// written (§3 lifecycle invariant).
func (s *Store) AppendEvent(e Event) (int64, error) {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return 0, fmt.Errorf("store: marshal event metadata: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO events (kind, action, target_path, description, status, error, embedding_id, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Action, e.TargetPath, e.Description, e.Status, e.Error, e.EmbeddingID, string(metaJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("store: append event: %w", err)
	}
	return res.LastInsertId()
}

// RecentEvents returns the most recent n events, newest first.
func (s *Store) RecentEvents(n int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, kind, action, target_path, description, status, error, embedding_id, metadata
		 FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEventsByKind returns the most recent n events of the given kind.
func (s *Store) RecentEventsByKind(kind string, n int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, kind, action, target_path, description, status, error, embedding_id, metadata
		 FROM events WHERE kind = ? ORDER BY id DESC LIMIT ?`, kind, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent events by kind: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var metaJSON string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Action, &e.TargetPath, &e.Description,
			&e.Status, &e.Error, &e.EmbeddingID, &metaJSON); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
				return nil, fmt.Errorf("store: decode event metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEventsByStatusSince counts events with the given status created since t.
func (s *Store) CountEventsByStatusSince(status string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE status = ? AND created_at >= ?`, status, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count events by status: %w", err)
	}
	return n, nil
}

// RecordHealthEvent appends a health/crash notification.
func (s *Store) RecordHealthEvent(eventType, details string) error {
	_, err := s.db.Exec(`INSERT INTO health_events (event_type, details) VALUES (?, ?)`, eventType, details)
	if err != nil {
		return fmt.Errorf("store: record health event: %w", err)
	}
	return nil
}

// RecentHealthEvents returns health events from the last `hours` hours.
func (s *Store) RecentHealthEvents(hours int) ([]HealthEvent, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	rows, err := s.db.Query(
		`SELECT id, created_at, event_type, details FROM health_events WHERE created_at >= ? ORDER BY id DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: recent health events: %w", err)
	}
	defer rows.Close()
	var out []HealthEvent
	for rows.Next() {
		var e HealthEvent
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.EventType, &e.Details); err != nil {
			return nil, fmt.Errorf("store: scan health event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertResourceLedgerRow records or updates today's running tally. dayStart
// must be a local-midnight timestamp (§3A).
func (s *Store) UpsertResourceLedgerRow(row ResourceLedgerRow) error {
	_, err := s.db.Exec(`
		INSERT INTO resource_ledger (day_start, input_tokens, output_tokens, estimated_cost, call_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(day_start) DO UPDATE SET
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			estimated_cost = excluded.estimated_cost,
			call_count = excluded.call_count`,
		row.DayStart, row.InputTokens, row.OutputTokens, row.EstimatedCost, row.CallCount)
	if err != nil {
		return fmt.Errorf("store: upsert resource ledger row: %w", err)
	}
	return nil
}

// RecentResourceLedgerRows returns up to n most recent daily ledger rows,
// newest first, matching the "retain <= 30" ring policy in §3.
func (s *Store) RecentResourceLedgerRows(n int) ([]ResourceLedgerRow, error) {
	rows, err := s.db.Query(`SELECT day_start, input_tokens, output_tokens, estimated_cost, call_count
		FROM resource_ledger ORDER BY day_start DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent resource ledger rows: %w", err)
	}
	defer rows.Close()
	var out []ResourceLedgerRow
	for rows.Next() {
		var r ResourceLedgerRow
		if err := rows.Scan(&r.DayStart, &r.InputTokens, &r.OutputTokens, &r.EstimatedCost, &r.CallCount); err != nil {
			return nil, fmt.Errorf("store: scan resource ledger row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneResourceLedger keeps only the newest `keep` rows, enforcing the ring
// policy's retention bound.
func (s *Store) PruneResourceLedger(keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM resource_ledger WHERE day_start NOT IN (
			SELECT day_start FROM resource_ledger ORDER BY day_start DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("store: prune resource ledger: %w", err)
	}
	return nil
}
