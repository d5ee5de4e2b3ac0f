package custody_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/ajazfarhad/chainofcustody/custody"
	"github.com/ajazfarhad/chainofcustody/rbac"
)

func TestTransferApprovalHandsOverCustody(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	ev := register(t, svc, "CASE-001")

	if ev.Locked || ev.CurrentCustodianID != alice.ID || ev.CollectedByID != alice.ID {
		t.Fatalf("unexpected registered evidence: %+v", ev)
	}
	if ev.Status != "Collected" {
		t.Fatalf("expected first configured status, got %q", ev.Status)
	}

	tr, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{
		EvidenceID: ev.ID,
		ToUserID:   bob.ID,
		Reason:     "Lab analysis",
	})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	if tr.Status != custody.StatusPending || tr.Signature != "" {
		t.Fatalf("expected unsigned pending event, got %+v", tr)
	}

	locked, err := st.GetEvidence(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if !locked.Locked {
		t.Fatalf("expected evidence to be locked while transfer is pending")
	}

	out, err := svc.ApproveTransfer(ctx, bob, tr.ID, "bob-attests")
	if err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}
	if out.Status != custody.StatusApproved {
		t.Fatalf("expected approved, got %s", out.Status)
	}
	if out.ResolvedAt == nil {
		t.Fatalf("expected resolution time to be set")
	}
	if out.Attestation != "bob-attests" || out.PrevSignature != "bob-attests" {
		t.Fatalf("expected submitted signature as predecessor, got prev=%q attestation=%q", out.PrevSignature, out.Attestation)
	}

	want := custody.Sign(custody.Link{
		EvidenceID: ev.ID,
		FromUserID: alice.ID,
		ToUserID:   bob.ID,
		Timestamp:  *out.ResolvedAt,
		Previous:   "bob-attests",
	})
	if out.Signature != want {
		t.Fatalf("signature mismatch: expected %s got %s", want, out.Signature)
	}

	after, err := st.GetEvidence(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if after.Locked {
		t.Fatalf("expected evidence to be unlocked after approval")
	}
	if after.CurrentCustodianID != bob.ID {
		t.Fatalf("expected custodian %s, got %s", bob.ID, after.CurrentCustodianID)
	}

	// Approving again reports the terminal status rather than the caller,
	// and leaves both records exactly as the first approval wrote them.
	_, err = svc.ApproveTransfer(ctx, alice, tr.ID, "again")
	var resolved *custody.AlreadyResolvedError
	if !errors.As(err, &resolved) || resolved.Status != custody.StatusApproved {
		t.Fatalf("expected AlreadyResolvedError(approved), got %v", err)
	}
	if _, err := svc.RejectTransfer(ctx, bob, tr.ID, "changed my mind"); !errors.As(err, &resolved) {
		t.Fatalf("expected AlreadyResolvedError on reject, got %v", err)
	}

	stored, err := st.GetEvent(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetEvent error: %v", err)
	}
	if stored.Status != out.Status || stored.Signature != out.Signature ||
		stored.PrevSignature != out.PrevSignature || stored.Reason != out.Reason ||
		stored.ResolvedAt == nil || !stored.ResolvedAt.Equal(*out.ResolvedAt) {
		t.Fatalf("resolved event changed: before %+v, after %+v", out, stored)
	}
	final, err := st.GetEvidence(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if final != after {
		t.Fatalf("evidence changed after rejected transition: before %+v, after %+v", after, final)
	}
}

func TestInitiateOnLockedEvidenceConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ev := register(t, svc, "CASE-002")

	if _, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "first"}); err != nil {
		t.Fatalf("first InitiateTransfer error: %v", err)
	}

	_, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: carol.ID, Reason: "second"})
	var locked *custody.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if !errors.Is(err, custody.ErrConflict) {
		t.Fatalf("expected LockedError to match ErrConflict")
	}
}

func TestSelfTransferOnLockedEvidenceConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ev := register(t, svc, "CASE-002B")

	if _, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "first"}); err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}

	for _, actor := range []custody.Actor{alice, bob} {
		_, err := svc.InitiateTransfer(ctx, actor, custody.TransferInput{EvidenceID: ev.ID, ToUserID: actor.ID, Reason: "mine"})
		if !errors.Is(err, custody.ErrConflict) || errors.Is(err, custody.ErrValidation) {
			t.Fatalf("%s: expected conflict on locked item, got %v", actor.ID, err)
		}
	}
}

func TestOnlyRecipientCanResolve(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ev := register(t, svc, "CASE-003")

	tr, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "handover"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}

	for _, actor := range []custody.Actor{alice, carol} {
		if _, err := svc.ApproveTransfer(ctx, actor, tr.ID, "sig"); !errors.Is(err, custody.ErrForbidden) {
			t.Fatalf("%s approve: expected ErrForbidden, got %v", actor.ID, err)
		}
		if _, err := svc.RejectTransfer(ctx, actor, tr.ID, "no"); !errors.Is(err, custody.ErrForbidden) {
			t.Fatalf("%s reject: expected ErrForbidden, got %v", actor.ID, err)
		}
	}

	if _, err := svc.ApproveTransfer(ctx, bob, "missing-event", "sig"); !errors.Is(err, custody.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown event, got %v", err)
	}
}

func TestRejectKeepsCustodyAndAppendsReason(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	ev := register(t, svc, "CASE-004")

	tr, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "Court"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}

	if _, err := svc.RejectTransfer(ctx, bob, tr.ID, "   "); !errors.Is(err, custody.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank reason, got %v", err)
	}

	out, err := svc.RejectTransfer(ctx, bob, tr.ID, "Not available")
	if err != nil {
		t.Fatalf("RejectTransfer error: %v", err)
	}
	if out.Status != custody.StatusRejected {
		t.Fatalf("expected rejected, got %s", out.Status)
	}
	if out.Reason != "Court | Rejected: Not available" {
		t.Fatalf("unexpected reason %q", out.Reason)
	}
	if out.Signature != "" {
		t.Fatalf("rejected event must not be signed, got %q", out.Signature)
	}

	after, err := st.GetEvidence(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if after.Locked || after.CurrentCustodianID != alice.ID {
		t.Fatalf("expected unlocked evidence still held by alice, got %+v", after)
	}

	_, err = svc.ApproveTransfer(ctx, bob, tr.ID, "sig")
	var resolved *custody.AlreadyResolvedError
	if !errors.As(err, &resolved) || resolved.Status != custody.StatusRejected {
		t.Fatalf("expected AlreadyResolvedError(rejected), got %v", err)
	}

	// The item can be transferred again once the rejection unlocked it.
	if _, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: carol.ID, Reason: "Retry"}); err != nil {
		t.Fatalf("InitiateTransfer after rejection: %v", err)
	}
}

func TestPermissionDeniedListsMissingPermissions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.RegisterEvidence(ctx, carol, custody.RegisterInput{
		CaseID:      "CASE-005",
		Type:        custody.EvidenceDigital,
		Description: "Laptop",
		Location:    "Bag 3",
		CollectedAt: t0,
	})
	var denied *rbac.PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected PermissionDeniedError, got %v", err)
	}
	if !slices.Equal(denied.Missing, []string{"register_evidence"}) {
		t.Fatalf("unexpected missing permissions %v", denied.Missing)
	}
	if denied.DisplayName != "Forensic Analyst" {
		t.Fatalf("expected display name in error, got %q", denied.DisplayName)
	}
}

func TestUnknownRoleIsDistinctFromDenied(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ev := register(t, svc, "CASE-006")

	_, err := svc.InitiateTransfer(ctx, eve, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "x"})
	if !errors.Is(err, rbac.ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if errors.Is(err, rbac.ErrPermissionDenied) {
		t.Fatalf("unknown role must not read as permission denied")
	}

	if _, err := svc.InitiateTransfer(ctx, custody.Actor{Role: "investigator"}, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "x"}); !errors.Is(err, custody.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for anonymous caller, got %v", err)
	}
}

func TestInitiateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ev := register(t, svc, "CASE-007")

	cases := []struct {
		name string
		in   custody.TransferInput
		want error
	}{
		{"missing reason", custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID}, custody.ErrValidation},
		{"missing recipient", custody.TransferInput{EvidenceID: ev.ID, Reason: "x"}, custody.ErrValidation},
		{"to self", custody.TransferInput{EvidenceID: ev.ID, ToUserID: alice.ID, Reason: "x"}, custody.ErrValidation},
		{"unknown evidence", custody.TransferInput{EvidenceID: "nope", ToUserID: bob.ID, Reason: "x"}, custody.ErrNotFound},
		{"unknown recipient", custody.TransferInput{EvidenceID: ev.ID, ToUserID: "u-nobody", Reason: "x"}, custody.ErrNotFound},
		{"inactive recipient", custody.TransferInput{EvidenceID: ev.ID, ToUserID: "u-dave", Reason: "x"}, custody.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.InitiateTransfer(ctx, alice, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// None of the failures above may leave the item locked.
	got, err := svc.GetEvidence(ctx, alice, ev.ID)
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if got.Locked {
		t.Fatalf("failed initiations must not lock the item")
	}
}

func TestApproveRequiresSignature(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ev := register(t, svc, "CASE-008")

	tr, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "x"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	if _, err := svc.ApproveTransfer(ctx, bob, tr.ID, " "); !errors.Is(err, custody.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRegisterValidatesTypeStatusAndCase(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	register(t, svc, "CASE-009")

	base := custody.RegisterInput{
		CaseID:      "CASE-010",
		Type:        custody.EvidenceTestimonial,
		Description: "Witness statement",
		Location:    "Records room",
		CollectedAt: t0,
	}

	bad := base
	bad.Type = "Hearsay"
	_, err := svc.RegisterEvidence(ctx, alice, bad)
	var verr *custody.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for type, got %v", err)
	}
	if !slices.Equal(verr.Allowed, []string{"Physical", "Digital", "Testimonial"}) {
		t.Fatalf("unexpected allowed types %v", verr.Allowed)
	}

	bad = base
	bad.Status = "Lost"
	if _, err := svc.RegisterEvidence(ctx, alice, bad); !errors.As(err, &verr) || !slices.Equal(verr.Allowed, policy.statuses) {
		t.Fatalf("expected ValidationError listing configured statuses, got %v", err)
	}

	bad = base
	bad.Location = ""
	if _, err := svc.RegisterEvidence(ctx, alice, bad); !errors.Is(err, custody.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing location, got %v", err)
	}

	dup := base
	dup.CaseID = "CASE-009"
	var dupErr *custody.DuplicateError
	if _, err := svc.RegisterEvidence(ctx, alice, dup); !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}

	ok := base
	ok.Status = "In Analysis"
	ev, err := svc.RegisterEvidence(ctx, alice, ok)
	if err != nil {
		t.Fatalf("RegisterEvidence error: %v", err)
	}
	if ev.Status != "In Analysis" {
		t.Fatalf("expected explicit status, got %q", ev.Status)
	}
}

func TestPendingForSplitsIncomingAndOutgoing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	e1 := register(t, svc, "CASE-011")
	e2 := register(t, svc, "CASE-012")
	e3 := register(t, svc, "CASE-013")

	t1, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: e1.ID, ToUserID: bob.ID, Reason: "one"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	t2, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: e2.ID, ToUserID: bob.ID, Reason: "two"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	t3, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: e3.ID, ToUserID: carol.ID, Reason: "three"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}

	bobs, err := svc.PendingFor(ctx, bob.ID)
	if err != nil {
		t.Fatalf("PendingFor error: %v", err)
	}
	if len(bobs.Incoming) != 2 || len(bobs.Outgoing) != 0 {
		t.Fatalf("expected 2 incoming / 0 outgoing for bob, got %d / %d", len(bobs.Incoming), len(bobs.Outgoing))
	}
	if bobs.Incoming[0].ID != t2.ID || bobs.Incoming[1].ID != t1.ID {
		t.Fatalf("expected newest first")
	}
	if bobs.Incoming[0].Counterparty.Username != "alice" {
		t.Fatalf("expected initiator as counterparty, got %+v", bobs.Incoming[0].Counterparty)
	}
	if bobs.Incoming[0].Evidence.CaseID != "CASE-012" || !bobs.Incoming[0].Evidence.Locked {
		t.Fatalf("unexpected evidence summary %+v", bobs.Incoming[0].Evidence)
	}

	alices, err := svc.PendingFor(ctx, alice.ID)
	if err != nil {
		t.Fatalf("PendingFor error: %v", err)
	}
	if len(alices.Incoming) != 0 || len(alices.Outgoing) != 3 {
		t.Fatalf("expected 0 incoming / 3 outgoing for alice, got %d / %d", len(alices.Incoming), len(alices.Outgoing))
	}
	if alices.Outgoing[0].ID != t3.ID || alices.Outgoing[0].Counterparty.Username != "carol" {
		t.Fatalf("unexpected newest outgoing %+v", alices.Outgoing[0])
	}

	if _, err := svc.ApproveTransfer(ctx, bob, t1.ID, "sig"); err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}
	bobs, err = svc.PendingFor(ctx, bob.ID)
	if err != nil {
		t.Fatalf("PendingFor error: %v", err)
	}
	if len(bobs.Incoming) != 1 {
		t.Fatalf("resolved transfers must leave the pending list, got %d", len(bobs.Incoming))
	}
}

func TestHistoryIsOldestFirstWithParties(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ev := register(t, svc, "CASE-014")

	first, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "Lab"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	if _, err := svc.ApproveTransfer(ctx, bob, first.ID, "s1"); err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}
	second, err := svc.InitiateTransfer(ctx, bob, custody.TransferInput{EvidenceID: ev.ID, ToUserID: carol.ID, Reason: "Analysis"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}

	h, err := svc.History(ctx, carol, ev.ID)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if h.Evidence.ID != ev.ID || !h.Evidence.Locked {
		t.Fatalf("unexpected evidence summary %+v", h.Evidence)
	}
	if len(h.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(h.Events))
	}
	if h.Events[0].ID != first.ID || h.Events[1].ID != second.ID {
		t.Fatalf("expected oldest first")
	}
	if h.Events[0].FromUser.FullName != "Alice Adams" || h.Events[0].ToUser.FullName != "Bob Brown" {
		t.Fatalf("unexpected parties %+v -> %+v", h.Events[0].FromUser, h.Events[0].ToUser)
	}
	if h.Events[1].Status != custody.StatusPending {
		t.Fatalf("expected latest event pending, got %s", h.Events[1].Status)
	}

	if _, err := svc.History(ctx, carol, "nope"); !errors.Is(err, custody.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentInitiateExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	ev := register(t, svc, "CASE-015")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			to := bob.ID
			if i%2 == 1 {
				to = carol.ID
			}
			_, errs[i] = svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: to, Reason: "race"})
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		var locked *custody.LockedError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &locked):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful initiation, got %d", wins)
	}

	if _, err := svc.VerifyChain(ctx, ev.ID); err != nil {
		t.Fatalf("VerifyChain after race: %v", err)
	}
}

func TestHistoryChainModeLinksApprovals(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, custody.WithChainMode(custody.ChainFromHistory))
	ev := register(t, svc, "CASE-016")

	tr1, err := svc.InitiateTransfer(ctx, alice, custody.TransferInput{EvidenceID: ev.ID, ToUserID: bob.ID, Reason: "one"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	a1, err := svc.ApproveTransfer(ctx, bob, tr1.ID, "whatever bob typed")
	if err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}
	if a1.PrevSignature != custody.Genesis {
		t.Fatalf("expected first approval to link to genesis, got %q", a1.PrevSignature)
	}
	if a1.Attestation != "whatever bob typed" {
		t.Fatalf("expected submitted value kept as attestation, got %q", a1.Attestation)
	}

	tr2, err := svc.InitiateTransfer(ctx, bob, custody.TransferInput{EvidenceID: ev.ID, ToUserID: carol.ID, Reason: "two"})
	if err != nil {
		t.Fatalf("InitiateTransfer error: %v", err)
	}
	a2, err := svc.ApproveTransfer(ctx, carol, tr2.ID, "carol")
	if err != nil {
		t.Fatalf("ApproveTransfer error: %v", err)
	}
	if a2.PrevSignature != a1.Signature {
		t.Fatalf("expected second approval to link to %s, got %s", a1.Signature, a2.PrevSignature)
	}

	report, err := svc.VerifyChain(ctx, ev.ID)
	if err != nil {
		t.Fatalf("VerifyChain error: %v", err)
	}
	if report.Approved != 2 || report.Head != a2.Signature {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestAccessIsRecordedAndSanitized(t *testing.T) {
	ctx := context.Background()
	mask := custody.SanitizerFunc(func(a custody.AccessEntry) custody.AccessEntry {
		if a.IPAddress != "" {
			a.IPAddress = "masked"
		}
		return a
	})
	svc, st := newService(t, custody.WithSanitizer(mask))

	caller := alice
	caller.Meta = map[string]string{custody.MetaIP: "10.0.0.7", custody.MetaUserAgent: "curl/8.0"}

	ev, err := svc.RegisterEvidence(ctx, caller, custody.RegisterInput{
		CaseID:      "CASE-017",
		Type:        custody.EvidenceDigital,
		Description: "Phone",
		Location:    "Safe",
		CollectedAt: t0,
	})
	if err != nil {
		t.Fatalf("RegisterEvidence error: %v", err)
	}
	if _, err := svc.GetEvidence(ctx, caller, ev.ID); err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}

	log := st.AccessLog()
	if len(log) != 2 {
		t.Fatalf("expected 2 access entries, got %d", len(log))
	}
	if log[0].Action != custody.ActionRegister || log[1].Action != custody.ActionView {
		t.Fatalf("unexpected actions %s, %s", log[0].Action, log[1].Action)
	}
	if log[0].IPAddress != "masked" || log[0].UserAgent != "curl/8.0" || log[0].UserID != alice.ID {
		t.Fatalf("unexpected entry %+v", log[0])
	}
}

type failingRecorder struct{}

func (failingRecorder) RecordAccess(context.Context, custody.AccessEntry) error {
	return errors.New("disk full")
}

func TestAccessRecorderFailureDoesNotFailOperation(t *testing.T) {
	svc, st := newService(t, custody.WithAccessRecorder(failingRecorder{}))
	ev := register(t, svc, "CASE-018")

	got, err := st.GetEvidence(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("evidence should be stored despite the access log failure: %v", err)
	}
	if got.CaseID != "CASE-018" {
		t.Fatalf("unexpected evidence %+v", got)
	}
	if len(st.AccessLog()) != 0 {
		t.Fatalf("store recorder must be replaced by the option")
	}
}
