package custody

import (
	"context"
	"errors"
	"fmt"
)

// VerifyError tells you exactly which event broke the chain and why.
type VerifyError struct {
	EvidenceID string
	EventID    string
	Index      int
	Reason     string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("custody chain verification failed: evidence=%s event=%s index=%d reason=%s",
		e.EvidenceID, e.EventID, e.Index, e.Reason,
	)
}

// ChainReport summarizes a successful verification.
type ChainReport struct {
	EvidenceID string `json:"evidenceId"`
	Events     int    `json:"events"`
	Approved   int    `json:"approved"`
	Head       string `json:"head,omitempty"` // signature of the latest approval
}

// VerifyChain checks the custody history of an evidence item.
// It detects:
// - edits to a signed field of an approved event (signature mismatch)
// - approved events without a signature or resolution time
// - more than one pending event, or a lock flag that disagrees with it
// - approvals signed in ChainFromHistory mode that do not link to their
//   predecessor, whatever mode the service runs in now
func (s *Service) VerifyChain(ctx context.Context, evidenceID string) (ChainReport, error) {
	ev, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		return ChainReport{}, err
	}
	events, err := s.store.ListEvents(ctx, ev.ID)
	if err != nil {
		return ChainReport{}, err
	}

	report := ChainReport{EvidenceID: ev.ID, Events: len(events)}
	fail := func(i int, e Event, reason string) (ChainReport, error) {
		return ChainReport{}, &VerifyError{EvidenceID: ev.ID, EventID: e.ID, Index: i, Reason: reason}
	}

	pending := 0
	for i, e := range events {
		if e.EvidenceID != ev.ID {
			return fail(i, e, "event belongs to another evidence item")
		}

		switch e.Status {
		case StatusPending:
			pending++
			if e.Signature != "" {
				return fail(i, e, "pending event carries a signature")
			}
			continue
		case StatusRejected:
			if e.Signature != "" {
				return fail(i, e, "rejected event carries a signature")
			}
			continue
		case StatusApproved:
		default:
			return fail(i, e, fmt.Sprintf("unknown status %q", e.Status))
		}

		if e.Signature == "" || e.ResolvedAt == nil {
			return fail(i, e, "approved event is missing its signature or resolution time")
		}

		// An empty mode parses as ChainFromApprover.
		mode, err := ParseChainMode(e.ChainMode)
		if err != nil {
			return fail(i, e, fmt.Sprintf("unknown chain mode %q", e.ChainMode))
		}
		if mode == ChainFromHistory {
			want := report.Head
			if want == "" {
				want = Genesis
			}
			if e.PrevSignature != want {
				return fail(i, e, fmt.Sprintf("predecessor mismatch (expected %s, got %s)", short(want), short(e.PrevSignature)))
			}
		}

		expected := Sign(Link{
			EvidenceID: e.EvidenceID,
			FromUserID: e.FromUserID,
			ToUserID:   e.ToUserID,
			Timestamp:  *e.ResolvedAt,
			Previous:   e.PrevSignature,
		})
		if e.Signature != expected {
			return fail(i, e, fmt.Sprintf("signature mismatch (expected %s, got %s)", short(expected), short(e.Signature)))
		}

		report.Approved++
		report.Head = e.Signature
	}

	if pending > 1 {
		return ChainReport{}, &VerifyError{EvidenceID: ev.ID, Index: -1, Reason: fmt.Sprintf("%d pending events", pending)}
	}
	if ev.Locked != (pending == 1) {
		return ChainReport{}, &VerifyError{EvidenceID: ev.ID, Index: -1,
			Reason: fmt.Sprintf("lock flag %t disagrees with %d pending events", ev.Locked, pending)}
	}
	return report, nil
}

// VerifyChainAs runs VerifyChain on behalf of actor and records the
// outcome in the access log.
func (s *Service) VerifyChainAs(ctx context.Context, actor Actor, evidenceID string) (ChainReport, error) {
	report, err := s.VerifyChain(ctx, evidenceID)
	var verr *VerifyError
	switch {
	case err == nil:
		s.record(ctx, actor, evidenceID, ActionVerify)
	case errors.As(err, &verr):
		s.logger.Warn("custody chain verification failed",
			"evidence_id", evidenceID,
			"event_id", verr.EventID,
			"reason", verr.Reason,
		)
		s.recordResult(ctx, actor, evidenceID, ActionVerify, "failure")
	}
	return report, err
}

// short is just for readable errors/logs.
func short(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:10]
}
