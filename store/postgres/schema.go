package postgres

import "context"

// Schema creates the custody tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	username    TEXT NOT NULL UNIQUE,
	full_name   TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL,
	department  TEXT NOT NULL DEFAULT '',
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	token_hash  TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS evidence (
	id                   TEXT PRIMARY KEY,
	case_id              TEXT NOT NULL UNIQUE,
	type                 TEXT NOT NULL,
	description          TEXT NOT NULL,
	location             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	locked               BOOLEAN NOT NULL DEFAULT FALSE,
	collected_by_id      TEXT NOT NULL,
	current_custodian_id TEXT NOT NULL,
	collected_at         TIMESTAMPTZ NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS custody_events (
	seq            BIGSERIAL UNIQUE,
	id             TEXT PRIMARY KEY,
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
	created_at     TIMESTAMPTZ NOT NULL,
	resolved_at    TIMESTAMPTZ
);

ALTER TABLE custody_events ADD COLUMN IF NOT EXISTS chain_mode TEXT NOT NULL DEFAULT '';

-- at most one pending transfer per evidence item
CREATE UNIQUE INDEX IF NOT EXISTS custody_events_one_pending
	ON custody_events (evidence_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS custody_events_to_pending
	ON custody_events (to_user_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS custody_events_from_pending
	ON custody_events (from_user_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS access_logs (
	seq         BIGSERIAL UNIQUE,
	id          TEXT PRIMARY KEY,
	evidence_id TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	result      TEXT NOT NULL,
	at          TIMESTAMPTZ NOT NULL,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT ''
);
`

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
