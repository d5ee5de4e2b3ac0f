// Package storetest holds the behavioural checks every custody.Store
// backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ajazfarhad/chainofcustody/custody"
)

// Backend is a fresh, empty store plus a way to seed user accounts.
type Backend struct {
	Store   custody.Store
	AddUser func(ctx context.Context, u custody.User, tokenHash string) error
}

var at = time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

// Run executes the suite. newBackend is called once per subtest.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("EvidenceRoundTrip", func(t *testing.T) { testEvidence(t, newBackend(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newBackend(t)) })
	t.Run("TransferLifecycle", func(t *testing.T) { testLifecycle(t, newBackend(t)) })
	t.Run("PendingOrder", func(t *testing.T) { testPending(t, newBackend(t)) })
	t.Run("ConcurrentOpen", func(t *testing.T) { testConcurrentOpen(t, newBackend(t)) })
	t.Run("AccessLog", func(t *testing.T) { testAccess(t, newBackend(t)) })
}

func evidence(id, caseID string) custody.Evidence {
	return custody.Evidence{
		ID:                 id,
		CaseID:             caseID,
		Type:               custody.EvidencePhysical,
		Description:        "Kitchen knife",
		Location:           "Locker 12",
		Status:             "Collected",
		CollectedByID:      "u-1",
		CurrentCustodianID: "u-1",
		CollectedAt:        at.Add(-time.Hour),
		CreatedAt:          at,
	}
}

func event(id, evidenceID, from, to string, ts time.Time) custody.Event {
	return custody.Event{
		ID:         id,
		EvidenceID: evidenceID,
		FromUserID: from,
		ToUserID:   to,
		Type:       custody.EventTransfer,
		Reason:     "Lab analysis",
		Status:     custody.StatusPending,
		Timestamp:  ts,
	}
}

func testEvidence(t *testing.T, b Backend) {
	ctx := context.Background()
	want := evidence("ev-1", "CASE-1")

	if err := b.Store.CreateEvidence(ctx, want); err != nil {
		t.Fatalf("CreateEvidence error: %v", err)
	}
	got, err := b.Store.GetEvidence(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if got.CaseID != want.CaseID || got.Type != want.Type || got.Locked || got.CurrentCustodianID != "u-1" {
		t.Fatalf("unexpected evidence %+v", got)
	}
	if !got.CollectedAt.Equal(want.CollectedAt) || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("timestamps did not round-trip: %v / %v", got.CollectedAt, got.CreatedAt)
	}

	err = b.Store.CreateEvidence(ctx, evidence("ev-2", "CASE-1"))
	var dup *custody.DuplicateError
	if !errors.As(err, &dup) || dup.Field != "caseId" || dup.Value != "CASE-1" {
		t.Fatalf("expected DuplicateError for caseId, got %v", err)
	}

	err = b.Store.CreateEvidence(ctx, evidence("ev-1", "CASE-2"))
	if !errors.As(err, &dup) || dup.Field != "id" || dup.Value != "ev-1" {
		t.Fatalf("expected DuplicateError for id, got %v", err)
	}

	if _, err := b.Store.GetEvidence(ctx, "missing"); !errors.Is(err, custody.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testUsers(t *testing.T, b Backend) {
	ctx := context.Background()
	u := custody.User{ID: "u-1", Username: "alice", FullName: "Alice Adams", Role: "investigator", Department: "CID", Active: true}
	if err := b.AddUser(ctx, u, "hash-1"); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	if err := b.AddUser(ctx, custody.User{ID: "u-2", Username: "bob", Role: "analyst"}, ""); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	if err := b.AddUser(ctx, custody.User{ID: "u-3", Username: "carol", Role: "analyst"}, ""); err != nil {
		t.Fatalf("users without tokens must coexist: %v", err)
	}

	got, err := b.Store.GetUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	if got != u {
		t.Fatalf("expected %+v, got %+v", u, got)
	}

	byToken, err := b.Store.UserByTokenHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("UserByTokenHash error: %v", err)
	}
	if byToken.ID != "u-1" {
		t.Fatalf("expected u-1, got %s", byToken.ID)
	}

	if _, err := b.Store.UserByTokenHash(ctx, "nope"); !errors.Is(err, custody.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown token, got %v", err)
	}
	if _, err := b.Store.GetUser(ctx, "nope"); !errors.Is(err, custody.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func testLifecycle(t *testing.T, b Backend) {
	ctx := context.Background()
	st := b.Store
	if err := st.CreateEvidence(ctx, evidence("ev-1", "CASE-1")); err != nil {
		t.Fatalf("CreateEvidence error: %v", err)
	}

	if err := st.OpenTransfer(ctx, event("t-1", "ev-1", "u-1", "u-2", at)); err != nil {
		t.Fatalf("OpenTransfer error: %v", err)
	}
	ev, err := st.GetEvidence(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if !ev.Locked {
		t.Fatalf("expected item locked after OpenTransfer")
	}

	var locked *custody.LockedError
	if err := st.OpenTransfer(ctx, event("t-2", "ev-1", "u-1", "u-3", at.Add(time.Second))); !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if err := st.OpenTransfer(ctx, event("t-x", "missing", "u-1", "u-3", at)); !errors.Is(err, custody.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown evidence, got %v", err)
	}

	resolvedAt := at.Add(time.Minute)
	out, err := st.ResolveTransfer(ctx, custody.Resolution{
		EventID:        "t-1",
		Status:         custody.StatusApproved,
		Reason:         "Lab analysis",
		Signature:      "sig-1",
		PrevSignature:  "prev-1",
		Attestation:    "prev-1",
		ChainMode:      "history",
		ResolvedAt:     resolvedAt,
		NewCustodianID: "u-2",
	})
	if err != nil {
		t.Fatalf("ResolveTransfer error: %v", err)
	}
	if out.Status != custody.StatusApproved || out.Signature != "sig-1" || out.PrevSignature != "prev-1" || out.ChainMode != "history" {
		t.Fatalf("unexpected resolved event %+v", out)
	}
	if out.ResolvedAt == nil || !out.ResolvedAt.Equal(resolvedAt) {
		t.Fatalf("unexpected resolution time %v", out.ResolvedAt)
	}

	ev, err = st.GetEvidence(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if ev.Locked || ev.CurrentCustodianID != "u-2" {
		t.Fatalf("expected unlocked item held by u-2, got %+v", ev)
	}

	_, err = st.ResolveTransfer(ctx, custody.Resolution{EventID: "t-1", Status: custody.StatusRejected, ResolvedAt: resolvedAt})
	var resolved *custody.AlreadyResolvedError
	if !errors.As(err, &resolved) || resolved.Status != custody.StatusApproved {
		t.Fatalf("expected AlreadyResolvedError(approved), got %v", err)
	}
	if _, err := st.ResolveTransfer(ctx, custody.Resolution{EventID: "missing", Status: custody.StatusRejected}); !errors.Is(err, custody.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Second round, rejected: custody stays with u-2.
	if err := st.OpenTransfer(ctx, event("t-3", "ev-1", "u-2", "u-3", at.Add(2*time.Minute))); err != nil {
		t.Fatalf("OpenTransfer error: %v", err)
	}
	if _, err := st.ResolveTransfer(ctx, custody.Resolution{
		EventID:    "t-3",
		Status:     custody.StatusRejected,
		Reason:     "Lab analysis | Rejected: busy",
		ResolvedAt: at.Add(3 * time.Minute),
	}); err != nil {
		t.Fatalf("ResolveTransfer error: %v", err)
	}
	ev, err = st.GetEvidence(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvidence error: %v", err)
	}
	if ev.Locked || ev.CurrentCustodianID != "u-2" {
		t.Fatalf("rejection must unlock and keep custodian, got %+v", ev)
	}

	events, err := st.ListEvents(ctx, "ev-1")
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if len(events) != 2 || events[0].ID != "t-1" || events[1].ID != "t-3" {
		t.Fatalf("expected [t-1 t-3] oldest first, got %v", eventIDs(events))
	}
	if events[0].ChainMode != "history" || events[1].ChainMode != "" {
		t.Fatalf("chain mode did not round-trip: %q / %q", events[0].ChainMode, events[1].ChainMode)
	}
	if events[1].Reason != "Lab analysis | Rejected: busy" {
		t.Fatalf("unexpected reason %q", events[1].Reason)
	}

	latest, err := st.LatestApproved(ctx, "ev-1")
	if err != nil {
		t.Fatalf("LatestApproved error: %v", err)
	}
	if latest == nil || latest.ID != "t-1" {
		t.Fatalf("expected latest approved t-1, got %+v", latest)
	}
	none, err := st.LatestApproved(ctx, "missing")
	if err != nil || none != nil {
		t.Fatalf("expected nil for item without approvals, got %+v (%v)", none, err)
	}

	got, err := st.GetEvent(ctx, "t-3")
	if err != nil {
		t.Fatalf("GetEvent error: %v", err)
	}
	if got.Status != custody.StatusRejected || got.Signature != "" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func testPending(t *testing.T, b Backend) {
	ctx := context.Background()
	st := b.Store
	for i, id := range []string{"ev-1", "ev-2", "ev-3"} {
		if err := st.CreateEvidence(ctx, evidence(id, "CASE-"+id)); err != nil {
			t.Fatalf("CreateEvidence error: %v", err)
		}
		to := "u-2"
		if id == "ev-3" {
			to = "u-3"
		}
		if err := st.OpenTransfer(ctx, event("t-"+id, id, "u-1", to, at.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("OpenTransfer error: %v", err)
		}
	}

	in, err := st.PendingEvents(ctx, custody.PendingQuery{ToUserID: "u-2"})
	if err != nil {
		t.Fatalf("PendingEvents error: %v", err)
	}
	if ids := eventIDs(in); len(ids) != 2 || ids[0] != "t-ev-2" || ids[1] != "t-ev-1" {
		t.Fatalf("expected [t-ev-2 t-ev-1], got %v", ids)
	}

	out, err := st.PendingEvents(ctx, custody.PendingQuery{FromUserID: "u-1"})
	if err != nil {
		t.Fatalf("PendingEvents error: %v", err)
	}
	if ids := eventIDs(out); len(ids) != 3 || ids[0] != "t-ev-3" {
		t.Fatalf("expected 3 outgoing newest first, got %v", ids)
	}
}

func testConcurrentOpen(t *testing.T, b Backend) {
	ctx := context.Background()
	if err := b.Store.CreateEvidence(ctx, evidence("ev-1", "CASE-1")); err != nil {
		t.Fatalf("CreateEvidence error: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "t-" + string(rune('a'+i))
			errs[i] = b.Store.OpenTransfer(ctx, event(id, "ev-1", "u-1", "u-2", at))
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
		t.Fatalf("expected exactly one OpenTransfer to succeed, got %d", wins)
	}

	pending, err := b.Store.PendingEvents(ctx, custody.PendingQuery{FromUserID: "u-1"})
	if err != nil {
		t.Fatalf("PendingEvents error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending event, got %d", len(pending))
	}
}

func testAccess(t *testing.T, b Backend) {
	rec, ok := b.Store.(custody.AccessRecorder)
	if !ok {
		t.Skip("store does not record access")
	}
	err := rec.RecordAccess(context.Background(), custody.AccessEntry{
		ID:         "a-1",
		EvidenceID: "ev-1",
		UserID:     "u-1",
		Action:     custody.ActionView,
		Result:     "success",
		At:         at,
		IPAddress:  "10.0.0.1",
		UserAgent:  "curl/8.0",
	})
	if err != nil {
		t.Fatalf("RecordAccess error: %v", err)
	}
}

func eventIDs(events []custody.Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}
