package custody_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ajazfarhad/chainofcustody/custody"
	"github.com/ajazfarhad/chainofcustody/rbac"
	"github.com/ajazfarhad/chainofcustody/store/memory"
)

type testPolicy struct {
	rbac.Roles
	statuses []string
}

func (p testPolicy) ValidStatuses() ([]string, error) { return p.statuses, nil }

var policy = testPolicy{
	Roles: rbac.Roles{
		{Name: "investigator", DisplayName: "Investigator", Permissions: []string{"register_evidence", "accept_transfers", "view_evidence"}},
		{Name: "analyst", DisplayName: "Forensic Analyst", Permissions: []string{"accept_transfers", "view_evidence"}},
	},
	statuses: []string{"Collected", "In Analysis", "Archived"},
}

var (
	alice = custody.Actor{ID: "u-alice", Role: "investigator"}
	bob   = custody.Actor{ID: "u-bob", Role: "investigator"}
	carol = custody.Actor{ID: "u-carol", Role: "analyst"}
	eve   = custody.Actor{ID: "u-eve", Role: "intern"} // role not in policy
)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

var t0 = time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

func newStore() *memory.Store {
	st := memory.New()
	st.PutUser(custody.User{ID: alice.ID, Username: "alice", FullName: "Alice Adams", Role: alice.Role, Active: true}, "")
	st.PutUser(custody.User{ID: bob.ID, Username: "bob", FullName: "Bob Brown", Role: bob.Role, Active: true}, "")
	st.PutUser(custody.User{ID: carol.ID, Username: "carol", FullName: "Carol Chen", Role: carol.Role, Active: true}, "")
	st.PutUser(custody.User{ID: "u-dave", Username: "dave", FullName: "Dave Dunn", Role: "investigator", Active: false}, "")
	return st
}

func newService(t *testing.T, opts ...custody.Option) (*custody.Service, *memory.Store) {
	t.Helper()
	st := newStore()
	opts = append([]custody.Option{custody.WithClock(stepClock(t0))}, opts...)
	return custody.NewService(st, policy, opts...), st
}

func register(t *testing.T, svc *custody.Service, caseID string) custody.Evidence {
	t.Helper()
	ev, err := svc.RegisterEvidence(context.Background(), alice, custody.RegisterInput{
		CaseID:      caseID,
		Type:        custody.EvidencePhysical,
		Description: "Kitchen knife",
		Location:    "Locker 12",
		CollectedAt: t0.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("RegisterEvidence error: %v", err)
	}
	return ev
}
