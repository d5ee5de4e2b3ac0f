package custody

import "time"

type EvidenceType string

const (
	EvidencePhysical    EvidenceType = "Physical"
	EvidenceDigital     EvidenceType = "Digital"
	EvidenceTestimonial EvidenceType = "Testimonial"
)

// EvidenceTypes lists the accepted evidence types in display order.
var EvidenceTypes = []EvidenceType{EvidencePhysical, EvidenceDigital, EvidenceTestimonial}

func (t EvidenceType) Valid() bool {
	for _, x := range EvidenceTypes {
		if x == t {
			return true
		}
	}
	return false
}

type EventType string

const (
	EventTransfer EventType = "transfer"
)

type EventStatus string

const (
	StatusPending  EventStatus = "pending"
	StatusApproved EventStatus = "approved"
	StatusRejected EventStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s EventStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string            `json:"id"`
	Role string            `json:"role"`
	Meta map[string]string `json:"meta,omitempty"` // ip, user_agent
}

const (
	MetaIP        = "ip"
	MetaUserAgent = "user_agent"
)

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"fullName"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	Active     bool   `json:"isActive"`
}

// UserSummary is the subset of a user embedded in custody views.
type UserSummary struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"fullName"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, FullName: u.FullName, Role: u.Role, Department: u.Department}
}

type Evidence struct {
	ID                 string       `json:"id"`
	CaseID             string       `json:"caseId"`
	Type               EvidenceType `json:"type"`
	Description        string       `json:"description"`
	Location           string       `json:"location,omitempty"`
	Status             string       `json:"status"`
	Locked             bool         `json:"locked"`
	CollectedByID      string       `json:"collectedById"`
	CurrentCustodianID string       `json:"currentCustodianId"`
	CollectedAt        time.Time    `json:"collectionDate"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// EvidenceSummary is the subset of an evidence item embedded in custody views.
type EvidenceSummary struct {
	ID          string       `json:"id"`
	CaseID      string       `json:"caseId"`
	Type        EvidenceType `json:"type,omitempty"`
	Description string       `json:"description,omitempty"`
	Status      string       `json:"status,omitempty"`
	Locked      bool         `json:"locked"`
}

func (e Evidence) Summary() EvidenceSummary {
	return EvidenceSummary{
		ID:          e.ID,
		CaseID:      e.CaseID,
		Type:        e.Type,
		Description: e.Description,
		Status:      e.Status,
		Locked:      e.Locked,
	}
}

// Event is one custody event. Only Status, Reason, ResolvedAt and the
// signature fields change, and only during the single pending → terminal
// transition.
type Event struct {
	ID         string      `json:"id"`
	EvidenceID string      `json:"evidenceId"`
	FromUserID string      `json:"fromUserId"`
	ToUserID   string      `json:"toUserId"`
	Type       EventType   `json:"eventType"`
	Reason     string      `json:"reason"`
	Status     EventStatus `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`

	// chain of custody
	Signature     string     `json:"signature,omitempty"`
	PrevSignature string     `json:"prevSignature,omitempty"`
	Attestation   string     `json:"attestation,omitempty"` // value submitted by the approver
	ChainMode     string     `json:"chainMode,omitempty"`   // mode the approval was signed under
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// Resolution is the single permitted transition of a pending event.
type Resolution struct {
	EventID       string
	Status        EventStatus
	Reason        string
	Signature     string
	PrevSignature string
	Attestation   string
	ChainMode     string
	ResolvedAt    time.Time

	// NewCustodianID is set on approval only; rejection keeps the custodian.
	NewCustodianID string
}

type AccessEntry struct {
	ID         string    `json:"id"`
	EvidenceID string    `json:"evidenceId"`
	UserID     string    `json:"userId"`
	Action     string    `json:"action"`
	Result     string    `json:"result"`
	At         time.Time `json:"at"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
}

const (
	ActionRegister = "register"
	ActionView     = "view"
	ActionTransfer = "transfer"
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionHistory  = "history"
	ActionVerify   = "verify"
)

// PendingTransfer is a pending event as shown to one of its parties.
type PendingTransfer struct {
	Event
	Evidence     EvidenceSummary `json:"evidence"`
	Counterparty UserSummary     `json:"counterparty"`
}

type Pending struct {
	Incoming []PendingTransfer `json:"incoming"`
	Outgoing []PendingTransfer `json:"outgoing"`
}

// HistoryEntry is an event with both parties resolved.
type HistoryEntry struct {
	Event
	FromUser UserSummary `json:"fromUser"`
	ToUser   UserSummary `json:"toUser"`
}

type History struct {
	Evidence EvidenceSummary `json:"evidence"`
	Events   []HistoryEntry  `json:"chain_of_custody"`
}
