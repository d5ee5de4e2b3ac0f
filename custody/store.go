package custody

import (
	"context"
)

// PendingQuery selects pending events by one of their parties.
// Exactly one of ToUserID or FromUserID is set.
type PendingQuery struct {
	ToUserID   string
	FromUserID string
}

// Store is the transactional record store behind the state machine.
//
// Lookups return an error matching ErrNotFound when the record is absent.
// OpenTransfer and ResolveTransfer each apply their writes as one unit:
// either both become visible or neither does.
type Store interface {
	CreateEvidence(ctx context.Context, e Evidence) error
	GetEvidence(ctx context.Context, id string) (Evidence, error)

	GetUser(ctx context.Context, id string) (User, error)
	UserByTokenHash(ctx context.Context, tokenHash string) (User, error)

	GetEvent(ctx context.Context, id string) (Event, error)
	// ListEvents returns the events of one evidence item, oldest first.
	ListEvents(ctx context.Context, evidenceID string) ([]Event, error)
	// PendingEvents returns pending events matching q, newest first.
	PendingEvents(ctx context.Context, q PendingQuery) ([]Event, error)
	// LatestApproved returns the most recent approved event of an item,
	// or nil when none exists.
	LatestApproved(ctx context.Context, evidenceID string) (*Event, error)

	// OpenTransfer locks the evidence item and inserts e (status pending).
	// It fails with *LockedError when the item is already locked.
	OpenTransfer(ctx context.Context, e Event) error
	// ResolveTransfer moves a pending event to r.Status, unlocks its
	// evidence item and, on approval, hands custody to r.NewCustodianID.
	// It fails with *AlreadyResolvedError when the event is not pending.
	ResolveTransfer(ctx context.Context, r Resolution) (Event, error)
}

// AccessRecorder appends immutable access-log entries.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, a AccessEntry) error
}

type NoopRecorder struct{}

func (NoopRecorder) RecordAccess(context.Context, AccessEntry) error { return nil }

// StatusSource yields the currently configured evidence lifecycle statuses.
type StatusSource interface {
	ValidStatuses() ([]string, error)
}
