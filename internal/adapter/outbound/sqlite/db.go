// Package sqlite provides the durable stores backed by an embedded SQLite
// database: the audit trail and the API key table. One database file holds
// both; the audit write path is single-producer behind a bounded queue.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schema creates the tables and indices. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	kind        TEXT    NOT NULL,
	client_ip   TEXT    NOT NULL,
	user_agent  TEXT,
	method      TEXT,
	path        TEXT,
	status      INTEGER,
	duration_ms REAL,
	action      TEXT,
	details     TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_ts        ON audit_events (ts);
CREATE INDEX IF NOT EXISTS idx_audit_kind      ON audit_events (kind);
CREATE INDEX IF NOT EXISTS idx_audit_client_ip ON audit_events (client_ip);

CREATE TABLE IF NOT EXISTS api_keys (
	key_id       TEXT PRIMARY KEY,
	key_hash     TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	last_used_at INTEGER,
	active       INTEGER NOT NULL DEFAULT 1
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode lets readers run against a snapshot while the single
// writer commits; at most one uncommitted batch is lost on crash.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
