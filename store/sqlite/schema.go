package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
)

// Schema creates the custody tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	username    TEXT NOT NULL UNIQUE,
	full_name   TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL,
	department  TEXT NOT NULL DEFAULT '',
	is_active   BOOLEAN NOT NULL DEFAULT 1,
	token_hash  TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS evidence (
	id                   TEXT PRIMARY KEY,
	case_id              TEXT NOT NULL UNIQUE,
	type                 TEXT NOT NULL,
	description          TEXT NOT NULL,
	location             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	locked               BOOLEAN NOT NULL DEFAULT 0,
	collected_by_id      TEXT NOT NULL,
	current_custodian_id TEXT NOT NULL,
	collected_at         TIMESTAMP NOT NULL,
	created_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS custody_events (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	evidence_id    TEXT NOT NULL REFERENCES evidence(id),
	from_user_id   TEXT NOT NULL,
	to_user_id     TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	reason         TEXT NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
	signature      TEXT NOT NULL DEFAULT '',
	prev_signature TEXT NOT NULL DEFAULT '',
	attestation    TEXT NOT NULL DEFAULT '',
	chain_mode     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	resolved_at    TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS custody_events_one_pending
	ON custody_events (evidence_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS custody_events_to_pending
	ON custody_events (to_user_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS custody_events_from_pending
	ON custody_events (from_user_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS access_logs (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	evidence_id TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	result      TEXT NOT NULL,
	at          TIMESTAMP NOT NULL,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT ''
);
`

var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

// Open opens the database at path with the standard pragmas. Writes go
// through a single connection, so SQLite's one-writer rule never surfaces
// as SQLITE_BUSY inside a transfer.
func Open(path string) (*sql.DB, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	// Fixed-offset text timestamps sort chronologically.
	q.Set("_time_format", "sqlite")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
