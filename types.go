package chainofcustody

import (
	"github.com/ajazfarhad/chainofcustody/custody"
	"github.com/ajazfarhad/chainofcustody/rbac"
)

type EvidenceType = custody.EvidenceType

const (
	EvidencePhysical    EvidenceType = custody.EvidencePhysical
	EvidenceDigital     EvidenceType = custody.EvidenceDigital
	EvidenceTestimonial EvidenceType = custody.EvidenceTestimonial
)

type EventStatus = custody.EventStatus

const (
	StatusPending  EventStatus = custody.StatusPending
	StatusApproved EventStatus = custody.StatusApproved
	StatusRejected EventStatus = custody.StatusRejected
)

type ChainMode = custody.ChainMode

const (
	ChainFromApprover ChainMode = custody.ChainFromApprover
	ChainFromHistory  ChainMode = custody.ChainFromHistory
)

type Actor = custody.Actor
type User = custody.User
type Evidence = custody.Evidence
type Event = custody.Event
type AccessEntry = custody.AccessEntry
type Pending = custody.Pending
type History = custody.History
type ChainReport = custody.ChainReport
type RegisterInput = custody.RegisterInput
type TransferInput = custody.TransferInput
type Link = custody.Link

type Store = custody.Store
type AccessRecorder = custody.AccessRecorder
type Policy = custody.Policy
type Role = rbac.Role

type VerifyError = custody.VerifyError
type LockedError = custody.LockedError
type AlreadyResolvedError = custody.AlreadyResolvedError
type PermissionDeniedError = rbac.PermissionDeniedError
type UnknownRoleError = rbac.UnknownRoleError

func Sign(l Link) string {
	return custody.Sign(l)
}
