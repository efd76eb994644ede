// Package state persists the rig's lifecycle ledger: an append-only
// sqlite database inside the working directory recording deployment,
// trigger evidence, per-action outcomes, and captured monitor/action
// errors. The database file rides into the final archive, so the
// archive carries its own metadata.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	at         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	component  TEXT NOT NULL,
	detail     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// Event kinds recorded over a rig's life.
const (
	KindDeployed  = "deployed"
	KindReady     = "ready"
	KindTriggered = "triggered"
	KindAction    = "action"
	KindError     = "error"
	KindArchived  = "archived"
	KindDestroyed = "destroyed"
)

// Event is one ledger row.
type Event struct {
	ID        string
	At        time.Time
	Kind      string
	Component string
	Detail    string
}

// Store is the append-only event ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates (or reopens) the ledger database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	// one connection: avoids SQLITE_BUSY between the supervisor and the
	// monitor poll goroutines, which all record events
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize event store schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Record appends one event. Failures are swallowed after logging is no
// longer possible here; the ledger must never take the rig down.
func (s *Store) Record(ctx context.Context, kind, component, detail string) {
	if s == nil || s.db == nil {
		return
	}
	_, _ = s.db.ExecContext(ctx, `
INSERT INTO events(id, at, kind, component, detail) VALUES(?, ?, ?, ?, ?);
`, uuid.NewString(), s.now().UTC().Format(time.RFC3339Nano), kind, component, detail)
}

// Events returns the full ledger in insertion order.
func (s *Store) Events(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, at, kind, component, detail FROM events ORDER BY rowid;
`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at string
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.Component, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
