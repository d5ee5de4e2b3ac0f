package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ajazfarhad/chainofcustody/custody"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Username, u.FullName, u.Role, u.Department, u.Active, token)
	return mapUnique(err,
		uniqueKey{"users_pkey", "id", u.ID},
		uniqueKey{"users_username_key", "username", u.Username},
		uniqueKey{"users_token_hash_key", "token", "(redacted)"},
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.CaseID, e.Type, e.Description, e.Location, e.Status, e.Locked,
		e.CollectedByID, e.CurrentCustodianID, e.CollectedAt, e.CreatedAt)
	return mapUnique(err,
		uniqueKey{"evidence_pkey", "id", e.ID},
		uniqueKey{"evidence_case_id_key", "caseId", e.CaseID},
	)
}

const evidenceColumns = `
	id, case_id, type, description, location, status, locked,
	collected_by_id, current_custodian_id, collected_at, created_at`

func (s *Store) GetEvidence(ctx context.Context, id string) (custody.Evidence, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = $1`, id)
	e, err := scanEvidence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return custody.Evidence{}, fmt.Errorf("%w: evidence %s", custody.ErrNotFound, id)
	}
	return e, err
}

const userColumns = `id, username, full_name, role, department, is_active`

func (s *Store) GetUser(ctx context.Context, id string) (custody.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return custody.User{}, fmt.Errorf("%w: user %s", custody.ErrNotFound, id)
	}
	return u, err
}

func (s *Store) UserByTokenHash(ctx context.Context, tokenHash string) (custody.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE token_hash = $1`, tokenHash)
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
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM custody_events WHERE id = $1`, id)
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
		WHERE evidence_id = $1
		ORDER BY created_at ASC, seq ASC
	`, evidenceID)
}

func (s *Store) PendingEvents(ctx context.Context, q custody.PendingQuery) ([]custody.Event, error) {
	var args []any
	var b strings.Builder

	b.WriteString(`SELECT ` + eventColumns + ` FROM custody_events WHERE status = 'pending'`)
	if q.ToUserID != "" {
		args = append(args, q.ToUserID)
		fmt.Fprintf(&b, " AND to_user_id = $%d", len(args))
	}
	if q.FromUserID != "" {
		args = append(args, q.FromUserID)
		fmt.Fprintf(&b, " AND from_user_id = $%d", len(args))
	}
	b.WriteString(" ORDER BY created_at DESC, seq DESC")

	return s.queryEvents(ctx, b.String(), args...)
}

func (s *Store) LatestApproved(ctx context.Context, evidenceID string) (*custody.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM custody_events
		WHERE evidence_id = $1 AND status = 'approved'
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

	// The row lock taken here serializes concurrent initiators; a loser
	// re-evaluates the predicate after the winner commits and matches nothing.
	res, err := tx.ExecContext(ctx, `UPDATE evidence SET locked = TRUE WHERE id = $1 AND locked = FALSE`, e.EvidenceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM evidence WHERE id = $1)`, e.EvidenceID).Scan(&exists); err != nil {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
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

	row := tx.QueryRowContext(ctx, `
		UPDATE custody_events
		SET status = $2, reason = $3, signature = $4, prev_signature = $5,
		    attestation = $6, chain_mode = $7, resolved_at = $8
		WHERE id = $1 AND status = 'pending'
		RETURNING `+eventColumns,
		r.EventID, r.Status, r.Reason, r.Signature, r.PrevSignature, r.Attestation, r.ChainMode, r.ResolvedAt)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		var status custody.EventStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM custody_events WHERE id = $1`, r.EventID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return custody.Event{}, fmt.Errorf("%w: transfer event %s", custody.ErrNotFound, r.EventID)
		}
		if err != nil {
			return custody.Event{}, err
		}
		return custody.Event{}, &custody.AlreadyResolvedError{EventID: r.EventID, Status: status}
	}
	if err != nil {
		return custody.Event{}, err
	}

	if r.NewCustodianID != "" {
		_, err = tx.ExecContext(ctx, `UPDATE evidence SET locked = FALSE, current_custodian_id = $2 WHERE id = $1`,
			e.EvidenceID, r.NewCustodianID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE evidence SET locked = FALSE WHERE id = $1`, e.EvidenceID)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
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
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// uniqueKey maps a unique constraint, by its default Postgres name, to the
// field reported in a DuplicateError.
type uniqueKey struct {
	constraint string
	field      string
	value      string
}

func mapUnique(err error, keys ...uniqueKey) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	for _, k := range keys {
		if pqErr.Constraint == k.constraint {
			return &custody.DuplicateError{Field: k.field, Value: k.value}
		}
	}
	return err
}
