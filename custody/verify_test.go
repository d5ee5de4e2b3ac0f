package custody_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ajazfarhad/chainofcustody/custody"
	"github.com/ajazfarhad/chainofcustody/store/memory"
)

// tamperStore rewrites events on the way out, as if the rows had been
// edited behind the service's back.
type tamperStore struct {
	*memory.Store
	edit func(i int, e *custody.Event)
}

func (s *tamperStore) ListEvents(ctx context.Context, evidenceID string) ([]custody.Event, error) {
	events, err := s.Store.ListEvents(ctx, evidenceID)
	if err != nil || s.edit == nil {
		return events, err
	}
	for i := range events {
		s.edit(i, &events[i])
	}
	return events, nil
}

func buildChain(t *testing.T, mode custody.ChainMode) (*custody.Service, *tamperStore, string) {
	t.Helper()
	ctx := context.Background()

	st := &tamperStore{Store: newStore()}
	svc := custody.NewService(st, policy, custody.WithClock(stepClock(t0)), custody.WithChainMode(mode))
	ev := register(t, svc, "CASE-V")

	tr, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "Lab"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	if _, err := svc.ApproveTransfer(ctx, bob, tr.ID, "s-bob"); err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}

	tr, err = svc.InitiateTransfer(ctx, bob, custody.TransferInput{EvidenceID: ev.ID, ToUserID: carol.ID, Reason: "Analysis"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	if _, err := svc.RejectTransfer(ctx, carol, tr.ID, "Busy"); err != nil {
		t.Fatalf("RejectTransfer error: %v", err)
	}

	tr, err = svc.InitiateTransfer(ctx, bob, custody.TransferInput{EvidenceID: ev.ID, ToUserID: alice.ID, Reason: "Return"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	if _, err := svc.ApproveTransfer(ctx, alice, tr.ID, "s-alice"); err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}
	return svc, st, ev.ID
}

func TestVerifyChainPassesForValidChain(t *testing.T) {
	for _, mode := range []custody.ChainMode{custody.ChainFromApprover, custody.ChainFromHistory} {
		t.Run(mode.String(), func(t *testing.T) {
			svc, _, id := buildChain(t, mode)

			report, err := svc.VerifyChain(context.Background(), id)
			if err != nil {
				t.Fatalf("VerifyChain should pass, got error: %v", err)
			}
			if report.Events != 3 || report.Approved != 2 {
				t.Fatalf("unexpected report %+v", report)
			}
		})
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	cases := []struct {
		name  string
		mode  custody.ChainMode
		index int
		edit  func(i int, e *custody.Event)
	}{
		{"recipient rewritten", custody.ChainFromApprover, 0, func(i int, e *custody.Event) {
			if i == 0 {
				e.ToUserID = "u-mallory"
			}
		}},
		{"predecessor rewritten", custody.ChainFromApprover, 2, func(i int, e *custody.Event) {
			if i == 2 {
				e.PrevSignature = "forged"
			}
		}},
		{"rejected event signed", custody.ChainFromApprover, 1, func(i int, e *custody.Event) {
			if i == 1 {
				e.Signature = "deadbeef"
			}
		}},
		{"approval unlinked", custody.ChainFromHistory, 2, func(i int, e *custody.Event) {
			if i == 2 {
				e.PrevSignature = custody.Genesis
				e.Signature = custody.Sign(custody.Link{
					EvidenceID: e.EvidenceID,
					FromUserID: e.FromUserID,
					ToUserID:   e.ToUserID,
					Timestamp:  *e.ResolvedAt,
					Previous:   custody.Genesis,
				})
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, st, id := buildChain(t, tc.mode)
			st.edit = tc.edit

			_, err := svc.VerifyChain(context.Background(), id)
			var verr *custody.VerifyError
			if !errors.As(err, &verr) {
				t.Fatalf("expected VerifyError, got %v", err)
			}
			if verr.Index != tc.index {
				t.Fatalf("expected failure at index %d, got %d (%s)", tc.index, verr.Index, verr.Reason)
			}
		})
	}
}

func TestVerifyChainDetectsLockMismatch(t *testing.T) {
	ctx := context.Background()
	svc, st, id := buildChain(t, custody.ChainFromApprover)

	if _, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: id, ToUserID: bob.ID, Reason: "Again"}); err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	if _, err := svc.VerifyChain(ctx, id); err != nil {
		t.Fatalf("pending transfer with locked item should verify: %v", err)
	}

	// Hide the pending event: the item is locked with nothing pending.
	st.edit = func(i int, e *custody.Event) {
		if e.Status == custody.StatusPending {
			e.Status = custody.StatusRejected
		}
	}
	_, err := svc.VerifyChain(ctx, id)
	var verr *custody.VerifyError
	if !errors.As(err, &verr) || verr.Index != -1 {
		t.Fatalf("expected chain-level VerifyError, got %v", err)
	}
}

func TestVerifyChainFollowsRecordedModeAcrossReconfiguration(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	clock := stepClock(t0)

	before := custody.NewService(st, policy, custody.WithClock(clock), custody.WithChainMode(custody.ChainFromApprover))
	ev := register(t, before, "CASE-MIX")
	tr, err := before.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "Lab"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	if _, err := before.ApproveTransfer(ctx, bob, tr.ID, "SIG1"); err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}

	// The daemon restarts with chain_mode: history.
	after := custody.NewService(st, policy, custody.WithClock(clock), custody.WithChainMode(custody.ChainFromHistory))
	if _, err := after.VerifyChain(ctx, ev.ID); err != nil {
		t.Fatalf("approver-mode chain must still verify under history mode: %v", err)
	}

	tr, err = after.InitiateTransfer(ctx, bob, custody.TransferInput{EvidenceID: ev.ID, ToUserID: carol.ID, Reason: "Analysis"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	out, err := after.ApproveTransfer(ctx, carol, tr.ID, "SIG2")
	if err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}
	if out.ChainMode != "history" || out.PrevSignature == "SIG2" {
		t.Fatalf("expected history-linked approval, got mode=%q prev=%q", out.ChainMode, out.PrevSignature)
	}

	events, err := st.ListEvents(ctx, ev.ID)
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if events[0].ChainMode != "approver" || events[1].ChainMode != "history" {
		t.Fatalf("unexpected recorded modes %q, %q", events[0].ChainMode, events[1].ChainMode)
	}
	if out.PrevSignature != events[0].Signature {
		t.Fatalf("history approval should link to %s, got %s", events[0].Signature, out.PrevSignature)
	}

	for _, svc := range []*custody.Service{before, after} {
		report, err := svc.VerifyChain(ctx, ev.ID)
		if err != nil {
			t.Fatalf("%s service: mixed chain should verify: %v", svc.ChainMode(), err)
		}
		if report.Approved != 2 || report.Head != out.Signature {
			t.Fatalf("%s service: unexpected report %+v", svc.ChainMode(), report)
		}
	}
}

func TestVerifyChainRejectsUnknownRecordedMode(t *testing.T) {
	svc, st, id := buildChain(t, custody.ChainFromApprover)
	st.edit = func(i int, e *custody.Event) {
		if i == 0 {
			e.ChainMode = "sideways"
		}
	}

	_, err := svc.VerifyChain(context.Background(), id)
	var verr *custody.VerifyError
	if !errors.As(err, &verr) || verr.Index != 0 {
		t.Fatalf("expected VerifyError at index 0, got %v", err)
	}
}
