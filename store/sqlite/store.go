package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ajazfarhad/chainofcustody/custody"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateUser(ctx context.Context, u custody.User, tokenHash string) error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	var token any
	if tokenHash != "" {
		token = tokenHash
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, full_name, role, department, is_active, token_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.FullName, u.Role, u.Department, u.Active, token)
	return mapUnique(err,
		uniqueKey{"users.id", "id", u.ID},
		uniqueKey{"users.username", "username", u.Username},
		uniqueKey{"users.token_hash", "token", "(redacted)"},
	)
}

func (s *Store) CreateEvidence(ctx context.Context, e custody.Evidence) error {
	if e.ID == "" {
		return errors.New("evidence id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (
			id, case_id, type, description, location, status, locked,
			collected_by_id, current_custodian_id, collected_at, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CaseID, e.Type, e.Description, e.Location, e.Status, e.Locked,
		e.CollectedByID, e.CurrentCustodianID, e.CollectedAt, e.CreatedAt)
	return mapUnique(err,
		uniqueKey{"evidence.id", "id", e.ID},
		uniqueKey{"evidence.case_id", "caseId", e.CaseID},
	)
}

const evidenceColumns = `
	id, case_id, type, description, location, status, locked,
	collected_by_id, current_custodian_id, collected_at, created_at`

func (s *Store) GetEvidence(ctx context.Context, id string) (custody.Evidence, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = ?`, id)
	e, err := scanEvidence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return custody.Evidence{}, fmt.Errorf("%w: evidence %s", custody.ErrNotFound, id)
	}
	return e, err
}

const userColumns = `id, username, full_name, role, department, is_active`

func (s *Store) GetUser(ctx context.Context, id string) (custody.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return custody.User{}, fmt.Errorf("%w: user %s", custody.ErrNotFound, id)
	}
	return u, err
}

func (s *Store) UserByTokenHash(ctx context.Context, tokenHash string) (custody.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE token_hash = ?`, tokenHash)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return custody.User{}, fmt.Errorf("%w: token", custody.ErrNotFound)
	}
	return u, err
}

const eventColumns = `
	id, evidence_id, from_user_id, to_user_id, event_type, reason, status,
	signature, prev_signature, attestation, chain_mode, created_at, resolved_at`

func (s *Store) GetEvent(ctx context.Context, id string) (custody.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM custody_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return custody.Event{}, fmt.Errorf("%w: transfer event %s", custody.ErrNotFound, id)
	}
	return e, err
}

func (s *Store) ListEvents(ctx context.Context, evidenceID string) ([]custody.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM custody_events
		WHERE evidence_id = ?
		ORDER BY created_at ASC, seq ASC
	`, evidenceID)
}

func (s *Store) PendingEvents(ctx context.Context, q custody.PendingQuery) ([]custody.Event, error) {
	var args []any
	var b strings.Builder

	b.WriteString(`SELECT ` + eventColumns + ` FROM custody_events WHERE status = 'pending'`)
	if q.ToUserID != "" {
		args = append(args, q.ToUserID)
		b.WriteString(" AND to_user_id = ?")
	}
	if q.FromUserID != "" {
		args = append(args, q.FromUserID)
		b.WriteString(" AND from_user_id = ?")
	}
	b.WriteString(" ORDER BY created_at DESC, seq DESC")

	return s.queryEvents(ctx, b.String(), args...)
}

func (s *Store) LatestApproved(ctx context.Context, evidenceID string) (*custody.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM custody_events
		WHERE evidence_id = ? AND status = 'approved'
		ORDER BY resolved_at DESC, seq DESC
		LIMIT 1
	`, evidenceID)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) OpenTransfer(ctx context.Context, e custody.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// SQLite admits one writer at a time; whoever runs this second finds
	// the row already locked and matches nothing.
	res, err := tx.ExecContext(ctx, `UPDATE evidence SET locked = TRUE WHERE id = ? AND locked = FALSE`, e.EvidenceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM evidence WHERE id = ?)`, e.EvidenceID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: evidence %s", custody.ErrNotFound, e.EvidenceID)
		}
		return &custody.LockedError{EvidenceID: e.EvidenceID}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO custody_events (
			id, evidence_id, from_user_id, to_user_id, event_type, reason, status, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.EvidenceID, e.FromUserID, e.ToUserID, e.Type, e.Reason, e.Status, e.Timestamp)
	if isUniqueViolation(err) {
		return &custody.LockedError{EvidenceID: e.EvidenceID}
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ResolveTransfer(ctx context.Context, r custody.Resolution) (custody.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return custody.Event{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE custody_events
		SET status = ?, reason = ?, signature = ?, prev_signature = ?,
		    attestation = ?, chain_mode = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'
	`, r.Status, r.Reason, r.Signature, r.PrevSignature, r.Attestation, r.ChainMode, r.ResolvedAt, r.EventID)
	if err != nil {
		return custody.Event{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return custody.Event{}, err
	}
	if n == 0 {
		var status custody.EventStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM custody_events WHERE id = ?`, r.EventID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return custody.Event{}, fmt.Errorf("%w: transfer event %s", custody.ErrNotFound, r.EventID)
		}
		if err != nil {
			return custody.Event{}, err
		}
		return custody.Event{}, &custody.AlreadyResolvedError{EventID: r.EventID, Status: status}
	}

	// Read back through a plain SELECT so column types drive time parsing.
	e, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM custody_events WHERE id = ?`, r.EventID))
	if err != nil {
		return custody.Event{}, err
	}

	if r.NewCustodianID != "" {
		_, err = tx.ExecContext(ctx, `UPDATE evidence SET locked = FALSE, current_custodian_id = ? WHERE id = ?`,
			r.NewCustodianID, e.EvidenceID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE evidence SET locked = FALSE WHERE id = ?`, e.EvidenceID)
	}
	if err != nil {
		return custody.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return custody.Event{}, err
	}
	return e, nil
}

func (s *Store) RecordAccess(ctx context.Context, a custody.AccessEntry) error {
	if a.ID == "" {
		return errors.New("access entry id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_logs (id, evidence_id, user_id, action, result, at, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.EvidenceID, a.UserID, a.Action, a.Result, a.At, a.IPAddress, a.UserAgent)
	return err
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]custody.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []custody.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidence(r rowScanner) (custody.Evidence, error) {
	var e custody.Evidence
	err := r.Scan(
		&e.ID,
		&e.CaseID,
		&e.Type,
		&e.Description,
		&e.Location,
		&e.Status,
		&e.Locked,
		&e.CollectedByID,
		&e.CurrentCustodianID,
		&e.CollectedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return custody.Evidence{}, err
	}
	e.CollectedAt = e.CollectedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func scanUser(r rowScanner) (custody.User, error) {
	var u custody.User
	err := r.Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.Department, &u.Active)
	return u, err
}

func scanEvent(r rowScanner) (custody.Event, error) {
	var e custody.Event
	var resolvedAt sql.NullTime

	err := r.Scan(
		&e.ID,
		&e.EvidenceID,
		&e.FromUserID,
		&e.ToUserID,
		&e.Type,
		&e.Reason,
		&e.Status,
		&e.Signature,
		&e.PrevSignature,
		&e.Attestation,
		&e.ChainMode,
		&e.Timestamp,
		&resolvedAt,
	)
	if err != nil {
		return custody.Event{}, err
	}

	e.Timestamp = e.Timestamp.UTC()
	if resolvedAt.Valid {
		at := resolvedAt.Time.UTC()
		e.ResolvedAt = &at
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// uniqueKey maps a constrained column, as SQLite names it in
// "UNIQUE constraint failed: table.column", to the field reported in a
// DuplicateError.
type uniqueKey struct {
	column string
	field  string
	value  string
}

func mapUnique(err error, keys ...uniqueKey) error {
	if !isUniqueViolation(err) {
		return err
	}
	msg := err.Error()
	for _, k := range keys {
		if failedColumn(msg, k.column) {
			return &custody.DuplicateError{Field: k.field, Value: k.value}
		}
	}
	return err
}

// failedColumn reports whether msg names column as the failed constraint.
// The name must end there, so "evidence.id" does not match "evidence.id_x".
func failedColumn(msg, column string) bool {
	for rest := msg; ; {
		i := strings.Index(rest, column)
		if i < 0 {
			return false
		}
		rest = rest[i+len(column):]
		if rest == "" || !isIdentByte(rest[0]) {
			return true
		}
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
