// Package store provides the embedded per-session SQLite database: the
// serialized session record, both conversation logs, and the version-control
// object rows. Schema bootstrap is idempotent and happens at open.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_state (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS full_conversations (
	id TEXT PRIMARY KEY,
	messages TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS compact_conversations (
	id TEXT PRIMARY KEY,
	messages TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS vcs_objects (
	hash TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS vcs_refs (
	name TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);
`

// DB wraps the session's embedded database handle.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// modernc sqlite serializes at the driver level but a single connection
	// keeps transaction semantics simple for the per-session actor.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return &DB{sql: db}, nil
}

// SQL exposes the underlying handle for sibling stores (vcs).
func (d *DB) SQL() *sql.DB { return d.sql }

// Close closes the database.
func (d *DB) Close() error { return d.sql.Close() }

// SaveSessionState upserts the serialized session record.
func (d *DB) SaveSessionState(ctx context.Context, id string, state []byte) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO session_state (id, state) VALUES ($1, $2)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state`,
		id, string(state))
	if err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	return nil
}

// LoadSessionState returns the serialized session record, or nil if absent.
func (d *DB) LoadSessionState(ctx context.Context, id string) ([]byte, error) {
	var state string
	err := d.sql.QueryRowContext(ctx,
		`SELECT state FROM session_state WHERE id = $1`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	return []byte(state), nil
}
