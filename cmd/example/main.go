package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ajazfarhad/chainofcustody"
	"github.com/ajazfarhad/chainofcustody/config"
	"github.com/ajazfarhad/chainofcustody/custody"
	"github.com/ajazfarhad/chainofcustody/store/memory"
)

// Same layout as the policy file custodyd reads.
const policyDoc = `{
	"roles": [
		{"name": "investigator", "display_name": "Investigator",
		 "permissions": ["register_evidence", "accept_transfers", "view_evidence"]},
		{"name": "analyst", "display_name": "Forensic Analyst",
		 "permissions": ["accept_transfers", "view_evidence"]}, // no registration
	],
	"evidence_lifecycle": {"statuses": ["Collected", "In Analysis", "Archived"]}
}`

func main() {
	ctx := context.Background()

	policy, err := config.ParsePolicy([]byte(policyDoc), "json")
	must(err)

	st := memory.New()
	st.PutUser(custody.User{ID: "u-alice", Username: "alice", FullName: "Alice", Role: "investigator", Active: true}, "")
	st.PutUser(custody.User{ID: "u-bob", Username: "bob", FullName: "Bob", Role: "investigator", Active: true}, "")
	st.PutUser(custody.User{ID: "u-carol", Username: "carol", FullName: "Carol", Role: "analyst", Active: true}, "")

	client := chainofcustody.New(st, policy, chainofcustody.WithChainMode(chainofcustody.ChainFromHistory))

	alice := chainofcustody.Actor{ID: "u-alice", Role: "investigator"}
	bob := chainofcustody.Actor{ID: "u-bob", Role: "investigator"}
	carol := chainofcustody.Actor{ID: "u-carol", Role: "analyst"}

	ev, err := client.RegisterEvidence(ctx, alice, chainofcustody.RegisterInput{
		CaseID:      "CASE-2026-001",
		Type:        chainofcustody.EvidencePhysical,
		Description: "Kitchen knife, bagged",
		Location:    "Locker 12",
		CollectedAt: time.Now().Add(-2 * time.Hour),
	})
	must(err)
	fmt.Println("Registered:", ev.CaseID, "custodian:", ev.CurrentCustodianID)

	tr, err := client.InitiateTransfer(ctx, alice, chainofcustody.TransferInput{
		EvidenceID: ev.ID,
		ToUserID:   bob.ID,
		Reason:     "Lab analysis",
	})
	must(err)

	// A second transfer while the first is pending is refused.
	_, err = client.InitiateTransfer(ctx, alice, chainofcustody.TransferInput{EvidenceID: ev.ID, ToUserID: carol.ID, Reason: "x"})
	var locked *chainofcustody.LockedError
	fmt.Println("Second initiate locked:", errors.As(err, &locked))

	approved, err := client.ApproveTransfer(ctx, bob, tr.ID, "bob-received-sealed")
	must(err)
	fmt.Println("Approved, signature:", short(approved.Signature))

	_, err = client.ApproveTransfer(ctx, alice, tr.ID, "again")
	var resolved *chainofcustody.AlreadyResolvedError
	fmt.Println("Re-approve refused:", errors.As(err, &resolved))

	tr, err = client.InitiateTransfer(ctx, bob, chainofcustody.TransferInput{EvidenceID: ev.ID, ToUserID: carol.ID, Reason: "Court"})
	must(err)
	_, err = client.RejectTransfer(ctx, carol, tr.ID, "Not available")
	must(err)

	_, err = client.RegisterEvidence(ctx, carol, chainofcustody.RegisterInput{CaseID: "CASE-2026-002"})
	var denied *chainofcustody.PermissionDeniedError
	if errors.As(err, &denied) {
		fmt.Println("Carol may not register, missing:", denied.Missing)
	}

	h, err := client.History(ctx, alice, ev.ID)
	must(err)
	fmt.Println("History of", h.Evidence.CaseID)
	for _, e := range h.Events {
		fmt.Printf("- %s %s -> %s %s reason=%q sig=%s\n",
			e.Timestamp.Format(time.RFC3339), e.FromUser.Username, e.ToUser.Username, e.Status, e.Reason, short(e.Signature))
	}

	report, err := client.VerifyChain(ctx, ev.ID)
	must(err)
	fmt.Printf("Chain verification OK ✅ (%d events, %d approved)\n", report.Events, report.Approved)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
