package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ajazfarhad/chainofcustody/custody"
)

// Store keeps everything in maps guarded by one lock. Every write takes
// the exclusive lock, so each multi-record operation is atomic.
type Store struct {
	mu       sync.RWMutex
	evidence map[string]custody.Evidence
	caseIDs  map[string]string // caseID => evidenceID
	users    map[string]custody.User
	tokens   map[string]string // token hash => userID
	events   map[string]custody.Event
	byItem   map[string][]string // evidenceID => ordered event IDs
	access   []custody.AccessEntry
}

func New() *Store {
	return &Store{
		evidence: make(map[string]custody.Evidence),
		caseIDs:  make(map[string]string),
		users:    make(map[string]custody.User),
		tokens:   make(map[string]string),
		events:   make(map[string]custody.Event),
		byItem:   make(map[string][]string),
	}
}

// PutUser adds or replaces a user account. tokenHash may be empty.
func (s *Store) PutUser(u custody.User, tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = u
	if tokenHash != "" {
		s.tokens[tokenHash] = u.ID
	}
}

func (s *Store) CreateEvidence(ctx context.Context, e custody.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.evidence[e.ID]; exists {
		return &custody.DuplicateError{Field: "id", Value: e.ID}
	}
	if _, exists := s.caseIDs[e.CaseID]; exists {
		return &custody.DuplicateError{Field: "caseId", Value: e.CaseID}
	}
	s.evidence[e.ID] = e
	s.caseIDs[e.CaseID] = e.ID
	return nil
}

func (s *Store) GetEvidence(ctx context.Context, id string) (custody.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.evidence[id]
	if !ok {
		return custody.Evidence{}, fmt.Errorf("%w: evidence %s", custody.ErrNotFound, id)
	}
	return e, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (custody.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return custody.User{}, fmt.Errorf("%w: user %s", custody.ErrNotFound, id)
	}
	return u, nil
}

func (s *Store) UserByTokenHash(ctx context.Context, tokenHash string) (custody.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[tokenHash]
	if !ok {
		return custody.User{}, fmt.Errorf("%w: token", custody.ErrNotFound)
	}
	u, ok := s.users[id]
	if !ok {
		return custody.User{}, fmt.Errorf("%w: user %s", custody.ErrNotFound, id)
	}
	return u, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (custody.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return custody.Event{}, fmt.Errorf("%w: transfer event %s", custody.ErrNotFound, id)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, evidenceID string) ([]custody.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byItem[evidenceID]
	out := make([]custody.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.events[id])
	}
	// insertion order already follows time; keep equal timestamps stable
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) PendingEvents(ctx context.Context, q custody.PendingQuery) ([]custody.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []custody.Event
	for _, e := range s.events {
		if e.Status != custody.StatusPending {
			continue
		}
		if q.ToUserID != "" && e.ToUserID != q.ToUserID {
			continue
		}
		if q.FromUserID != "" && e.FromUserID != q.FromUserID {
			continue
		}
		out = append(out, e)
	}

	// stable ordering: newest first
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) LatestApproved(ctx context.Context, evidenceID string) (*custody.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byItem[evidenceID]
	var latest *custody.Event
	for _, id := range ids {
		e := s.events[id]
		if e.Status != custody.StatusApproved || e.ResolvedAt == nil {
			continue
		}
		if latest == nil || !e.ResolvedAt.Before(*latest.ResolvedAt) {
			latest = &e
		}
	}
	return latest, nil
}

func (s *Store) OpenTransfer(ctx context.Context, e custody.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.evidence[e.EvidenceID]
	if !ok {
		return fmt.Errorf("%w: evidence %s", custody.ErrNotFound, e.EvidenceID)
	}
	if ev.Locked {
		return &custody.LockedError{EvidenceID: ev.ID}
	}
	if _, exists := s.events[e.ID]; exists {
		return &custody.DuplicateError{Field: "transfer id", Value: e.ID}
	}

	ev.Locked = true
	s.evidence[ev.ID] = ev
	s.events[e.ID] = e
	s.byItem[ev.ID] = append(s.byItem[ev.ID], e.ID)
	return nil
}

func (s *Store) ResolveTransfer(ctx context.Context, r custody.Resolution) (custody.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[r.EventID]
	if !ok {
		return custody.Event{}, fmt.Errorf("%w: transfer event %s", custody.ErrNotFound, r.EventID)
	}
	if e.Status != custody.StatusPending {
		return custody.Event{}, &custody.AlreadyResolvedError{EventID: e.ID, Status: e.Status}
	}
	ev, ok := s.evidence[e.EvidenceID]
	if !ok {
		return custody.Event{}, fmt.Errorf("%w: evidence %s", custody.ErrNotFound, e.EvidenceID)
	}

	at := r.ResolvedAt
	e.Status = r.Status
	e.Reason = r.Reason
	e.Signature = r.Signature
	e.PrevSignature = r.PrevSignature
	e.Attestation = r.Attestation
	e.ChainMode = r.ChainMode
	e.ResolvedAt = &at

	ev.Locked = false
	if r.NewCustodianID != "" {
		ev.CurrentCustodianID = r.NewCustodianID
	}

	s.events[e.ID] = e
	s.evidence[ev.ID] = ev
	return e, nil
}

func (s *Store) RecordAccess(ctx context.Context, a custody.AccessEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = append(s.access, a)
	return nil
}

// AccessLog returns a copy of the recorded access entries, oldest first.
func (s *Store) AccessLog() []custody.AccessEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]custody.AccessEntry(nil), s.access...)
}
