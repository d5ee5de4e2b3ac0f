package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajazfarhad/chainofcustody/rbac"
)

// ChainMode selects the predecessor value hashed into an approval signature.
type ChainMode int

const (
	// ChainFromApprover hashes the signature value submitted by the approver.
	ChainFromApprover ChainMode = iota
	// ChainFromHistory hashes the signature of the item's most recent
	// approved event (or Genesis), so the chain is derived from stored
	// history instead of caller input.
	ChainFromHistory
)

func (m ChainMode) String() string {
	switch m {
	case ChainFromApprover:
		return "approver"
	case ChainFromHistory:
		return "history"
	default:
		return fmt.Sprintf("ChainMode(%d)", int(m))
	}
}

// ParseChainMode accepts the names produced by ChainMode.String.
func ParseChainMode(s string) (ChainMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "approver":
		return ChainFromApprover, nil
	case "history":
		return ChainFromHistory, nil
	}
	return 0, fmt.Errorf("unknown chain mode %q", s)
}

// Permissions names the configured permissions guarding each action.
type Permissions struct {
	Transfer string
	Register string
}

var DefaultPermissions = Permissions{
	Transfer: "accept_transfers",
	Register: "register_evidence",
}

// Policy is the live configuration the service consults on every call.
type Policy interface {
	rbac.Source
	StatusSource
}

type Service struct {
	store    Store
	access   AccessRecorder
	sanitize Sanitizer
	rbac     *rbac.Evaluator
	statuses StatusSource
	perms    Permissions
	chain    ChainMode
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithAccessRecorder(a AccessRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.access = a
		}
	}
}

func WithSanitizer(z Sanitizer) Option {
	return func(s *Service) {
		if z != nil {
			s.sanitize = z
		}
	}
}

func WithPermissions(p Permissions) Option {
	return func(s *Service) {
		if p.Transfer != "" {
			s.perms.Transfer = p.Transfer
		}
		if p.Register != "" {
			s.perms.Register = p.Register
		}
	}
}

func WithChainMode(m ChainMode) Option {
	return func(s *Service) { s.chain = m }
}

// NewService builds the custody state machine. When store also implements
// AccessRecorder it receives the access log unless WithAccessRecorder
// overrides it.
func NewService(store Store, policy Policy, opts ...Option) *Service {
	var access AccessRecorder = NoopRecorder{}
	if ar, ok := store.(AccessRecorder); ok {
		access = ar
	}
	s := &Service{
		store:    store,
		access:   access,
		sanitize: NoopSanitizer{},
		rbac:     rbac.NewEvaluator(policy),
		statuses: policy,
		perms:    DefaultPermissions,
		chain:    ChainFromApprover,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ChainMode() ChainMode { return s.chain }

type RegisterInput struct {
	CaseID      string
	Type        EvidenceType
	Description string
	Location    string
	Status      string // empty selects the first configured status
	CollectedAt time.Time
}

// RegisterEvidence records a new evidence item, unlocked, with the caller
// as collector and custodian.
func (s *Service) RegisterEvidence(ctx context.Context, actor Actor, in RegisterInput) (Evidence, error) {
	if err := s.authorize(actor, s.perms.Register); err != nil {
		return Evidence{}, err
	}

	in.CaseID = strings.TrimSpace(in.CaseID)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	if in.CaseID == "" || in.Type == "" || in.Description == "" || in.Location == "" || in.CollectedAt.IsZero() {
		return Evidence{}, validationf("caseId, type, description, collectionDate and location are required")
	}
	if !in.Type.Valid() {
		allowed := make([]string, 0, len(EvidenceTypes))
		for _, t := range EvidenceTypes {
			allowed = append(allowed, string(t))
		}
		return Evidence{}, &ValidationError{Message: fmt.Sprintf("invalid evidence type %q", in.Type), Allowed: allowed}
	}

	valid, err := s.statuses.ValidStatuses()
	if err != nil {
		return Evidence{}, fmt.Errorf("custody: reading lifecycle statuses: %w", err)
	}
	status := in.Status
	if status == "" && len(valid) > 0 {
		status = valid[0]
	}
	if !slices.Contains(valid, status) {
		return Evidence{}, &ValidationError{
			Message: fmt.Sprintf("invalid status %q: status must be one of the currently configured values", status),
			Allowed: valid,
		}
	}

	now := s.now()
	ev := Evidence{
		ID:                 s.newID(),
		CaseID:             in.CaseID,
		Type:               in.Type,
		Description:        in.Description,
		Location:           in.Location,
		Status:             status,
		Locked:             false,
		CollectedByID:      actor.ID,
		CurrentCustodianID: actor.ID,
		CollectedAt:        normalizeTime(in.CollectedAt),
		CreatedAt:          normalizeTime(now),
	}
	if err := s.store.CreateEvidence(ctx, ev); err != nil {
		return Evidence{}, err
	}

	s.logger.Info("evidence registered", "evidence_id", ev.ID, "case_id", ev.CaseID, "actor", actor.ID)
	s.record(ctx, actor, ev.ID, ActionRegister)
	return ev, nil
}

func (s *Service) GetEvidence(ctx context.Context, actor Actor, id string) (Evidence, error) {
	ev, err := s.store.GetEvidence(ctx, id)
	if err != nil {
		return Evidence{}, err
	}
	s.record(ctx, actor, ev.ID, ActionView)
	return ev, nil
}

type TransferInput struct {
	EvidenceID string
	ToUserID   string
	Reason     string
}

// InitiateTransfer opens a pending transfer from the caller to in.ToUserID
// and locks the evidence item until the recipient resolves it.
func (s *Service) InitiateTransfer(ctx context.Context, actor Actor, in TransferInput) (Event, error) {
	if err := s.authorize(actor, s.perms.Transfer); err != nil {
		return Event{}, err
	}

	in.ToUserID = strings.TrimSpace(in.ToUserID)
	in.Reason = strings.TrimSpace(in.Reason)
	if in.ToUserID == "" || in.Reason == "" {
		return Event{}, validationf("toUserId and reason are required")
	}

	ev, err := s.store.GetEvidence(ctx, in.EvidenceID)
	if err != nil {
		return Event{}, err
	}
	if ev.Locked {
		return Event{}, &LockedError{EvidenceID: ev.ID}
	}
	if in.ToUserID == actor.ID {
		return Event{}, validationf("custody cannot be transferred to its initiator")
	}

	recipient, err := s.store.GetUser(ctx, in.ToUserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Event{}, err
	}
	if err != nil || !recipient.Active {
		return Event{}, notFoundf("recipient user %s not found or inactive", in.ToUserID)
	}

	e := Event{
		ID:         s.newID(),
		EvidenceID: ev.ID,
		FromUserID: actor.ID,
		ToUserID:   recipient.ID,
		Type:       EventTransfer,
		Reason:     in.Reason,
		Status:     StatusPending,
		Timestamp:  normalizeTime(s.now()),
	}
	// The locked check above is advisory; OpenTransfer re-checks atomically.
	if err := s.store.OpenTransfer(ctx, e); err != nil {
		return Event{}, err
	}

	s.logger.Info("custody transfer initiated",
		"event_id", e.ID,
		"evidence_id", e.EvidenceID,
		"from", e.FromUserID,
		"to", e.ToUserID,
	)
	s.record(ctx, actor, ev.ID, ActionTransfer)
	return e, nil
}

// ApproveTransfer completes a pending transfer: the event is signed into
// the chain, custody passes to the recipient and the item is unlocked.
func (s *Service) ApproveTransfer(ctx context.Context, actor Actor, eventID, signature string) (Event, error) {
	if err := s.authorize(actor, s.perms.Transfer); err != nil {
		return Event{}, err
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return Event{}, validationf("signature is required to approve a custody transfer")
	}

	e, err := s.pendingForRecipient(ctx, actor, eventID, "approve")
	if err != nil {
		return Event{}, err
	}

	at := normalizeTime(s.now())
	prev, err := s.previousSignature(ctx, e.EvidenceID, signature)
	if err != nil {
		return Event{}, err
	}
	sig := Sign(Link{
		EvidenceID: e.EvidenceID,
		FromUserID: e.FromUserID,
		ToUserID:   e.ToUserID,
		Timestamp:  at,
		Previous:   prev,
	})

	out, err := s.store.ResolveTransfer(ctx, Resolution{
		EventID:        e.ID,
		Status:         StatusApproved,
		Reason:         e.Reason,
		Signature:      sig,
		PrevSignature:  prev,
		Attestation:    signature,
		ChainMode:      s.chain.String(),
		ResolvedAt:     at,
		NewCustodianID: e.ToUserID,
	})
	if err != nil {
		return Event{}, err
	}

	s.logger.Info("custody transfer approved",
		"event_id", out.ID,
		"evidence_id", out.EvidenceID,
		"custodian", out.ToUserID,
		"chain_mode", s.chain.String(),
	)
	s.record(ctx, actor, out.EvidenceID, ActionApprove)
	return out, nil
}

// RejectTransfer closes a pending transfer without moving custody. The
// rejection reason is appended to the original reason.
func (s *Service) RejectTransfer(ctx context.Context, actor Actor, eventID, reason string) (Event, error) {
	if err := s.authorize(actor, s.perms.Transfer); err != nil {
		return Event{}, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Event{}, validationf("reason is required to reject a transfer")
	}

	e, err := s.pendingForRecipient(ctx, actor, eventID, "reject")
	if err != nil {
		return Event{}, err
	}

	out, err := s.store.ResolveTransfer(ctx, Resolution{
		EventID:    e.ID,
		Status:     StatusRejected,
		Reason:     e.Reason + " | Rejected: " + reason,
		ResolvedAt: normalizeTime(s.now()),
	})
	if err != nil {
		return Event{}, err
	}

	s.logger.Info("custody transfer rejected", "event_id", out.ID, "evidence_id", out.EvidenceID)
	s.record(ctx, actor, out.EvidenceID, ActionReject)
	return out, nil
}

// PendingFor lists the pending transfers awaiting userID (incoming) and
// those userID initiated (outgoing), newest first.
func (s *Service) PendingFor(ctx context.Context, userID string) (Pending, error) {
	incoming, err := s.store.PendingEvents(ctx, PendingQuery{ToUserID: userID})
	if err != nil {
		return Pending{}, err
	}
	outgoing, err := s.store.PendingEvents(ctx, PendingQuery{FromUserID: userID})
	if err != nil {
		return Pending{}, err
	}

	lk := newLookup(s.store)
	out := Pending{
		Incoming: make([]PendingTransfer, 0, len(incoming)),
		Outgoing: make([]PendingTransfer, 0, len(outgoing)),
	}
	for _, e := range incoming {
		pt, err := lk.pending(ctx, e, e.FromUserID)
		if err != nil {
			return Pending{}, err
		}
		out.Incoming = append(out.Incoming, pt)
	}
	for _, e := range outgoing {
		pt, err := lk.pending(ctx, e, e.ToUserID)
		if err != nil {
			return Pending{}, err
		}
		out.Outgoing = append(out.Outgoing, pt)
	}
	return out, nil
}

// History returns the full custody timeline of an evidence item, oldest first.
func (s *Service) History(ctx context.Context, actor Actor, evidenceID string) (History, error) {
	ev, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		return History{}, err
	}
	events, err := s.store.ListEvents(ctx, ev.ID)
	if err != nil {
		return History{}, err
	}

	lk := newLookup(s.store)
	h := History{
		Evidence: ev.Summary(),
		Events:   make([]HistoryEntry, 0, len(events)),
	}
	for _, e := range events {
		from, err := lk.user(ctx, e.FromUserID)
		if err != nil {
			return History{}, err
		}
		to, err := lk.user(ctx, e.ToUserID)
		if err != nil {
			return History{}, err
		}
		h.Events = append(h.Events, HistoryEntry{Event: e, FromUser: from, ToUser: to})
	}

	s.record(ctx, actor, ev.ID, ActionHistory)
	return h, nil
}

// Permissions reports the role definition currently in force for role.
func (s *Service) Permissions(role string) (rbac.Role, error) {
	return s.rbac.Permissions(role)
}

func (s *Service) authorize(actor Actor, perm string) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: caller identity is required", ErrForbidden)
	}
	return s.rbac.Authorize(actor.Role, perm)
}

// pendingForRecipient loads eventID and checks it can still be resolved by actor.
func (s *Service) pendingForRecipient(ctx context.Context, actor Actor, eventID, verb string) (Event, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return Event{}, err
	}
	if e.Status != StatusPending {
		return Event{}, &AlreadyResolvedError{EventID: e.ID, Status: e.Status}
	}
	if e.ToUserID != actor.ID || e.FromUserID == actor.ID {
		return Event{}, fmt.Errorf("%w: only the designated recipient can %s this transfer", ErrForbidden, verb)
	}
	return e, nil
}

func (s *Service) previousSignature(ctx context.Context, evidenceID, submitted string) (string, error) {
	if s.chain != ChainFromHistory {
		return submitted, nil
	}
	last, err := s.store.LatestApproved(ctx, evidenceID)
	if err != nil {
		return "", err
	}
	if last == nil || last.Signature == "" {
		return Genesis, nil
	}
	return last.Signature, nil
}

func (s *Service) record(ctx context.Context, actor Actor, evidenceID, action string) {
	s.recordResult(ctx, actor, evidenceID, action, "success")
}

func (s *Service) recordResult(ctx context.Context, actor Actor, evidenceID, action, result string) {
	entry := AccessEntry{
		ID:         s.newID(),
		EvidenceID: evidenceID,
		UserID:     actor.ID,
		Action:     action,
		Result:     result,
		At:         normalizeTime(s.now()),
		IPAddress:  actor.Meta[MetaIP],
		UserAgent:  actor.Meta[MetaUserAgent],
	}
	entry = s.sanitize.SanitizeAccess(entry)
	if err := s.access.RecordAccess(ctx, entry); err != nil {
		// The custody write already committed; the failure is reported, not rolled back.
		s.logger.Error("recording access failed",
			"evidence_id", evidenceID,
			"action", action,
			"actor", actor.ID,
			"error", err,
		)
	}
}

// lookup memoizes user and evidence reads for the duration of one call.
type lookup struct {
	store    Store
	users    map[string]UserSummary
	evidence map[string]EvidenceSummary
}

func newLookup(st Store) *lookup {
	return &lookup{
		store:    st,
		users:    make(map[string]UserSummary),
		evidence: make(map[string]EvidenceSummary),
	}
}

func (l *lookup) user(ctx context.Context, id string) (UserSummary, error) {
	if u, ok := l.users[id]; ok {
		return u, nil
	}
	u, err := l.store.GetUser(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		l.users[id] = UserSummary{ID: id}
	case err != nil:
		return UserSummary{}, err
	default:
		l.users[id] = u.Summary()
	}
	return l.users[id], nil
}

func (l *lookup) pending(ctx context.Context, e Event, counterpartyID string) (PendingTransfer, error) {
	ev, ok := l.evidence[e.EvidenceID]
	if !ok {
		item, err := l.store.GetEvidence(ctx, e.EvidenceID)
		if err != nil {
			return PendingTransfer{}, err
		}
		ev = item.Summary()
		l.evidence[e.EvidenceID] = ev
	}
	cp, err := l.user(ctx, counterpartyID)
	if err != nil {
		return PendingTransfer{}, err
	}
	return PendingTransfer{Event: e, Evidence: ev, Counterparty: cp}, nil
}
