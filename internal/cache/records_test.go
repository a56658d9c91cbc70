package cache

import (
	"testing"
	"time"
)

// TestRefreshPullCarriesLocal verifies that a provider refresh never
// drops client-side pull state: the fresh payload wins every provider
// field while pin and view markers survive from the prior record.
func TestRefreshPullCarriesLocal(t *testing.T) {
	viewed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	prev := PullRequest{
		Scope:  "octo/reef",
		Number: 7,
		Title:  "old title",
		State:  "open",
		Local:  PullLocal{Pinned: true, LastViewedAt: &viewed},
	}
	fresh := PullRequest{
		Scope:  "octo/reef",
		Number: 7,
		Title:  "new title",
		State:  "merged",
		Merged: true,
	}

	got := RefreshPull(fresh, prev)
	if got.Title != "new title" || !got.Merged {
		t.Errorf("refresh did not take provider fields: %+v", got)
	}
	if !got.Local.Pinned {
		t.Error("refresh dropped Pinned")
	}
	if got.Local.LastViewedAt == nil || !got.Local.LastViewedAt.Equal(viewed) {
		t.Errorf("refresh dropped LastViewedAt, got %v", got.Local.LastViewedAt)
	}
}

// TestApplyIssueInheritsLinks verifies that mutating an issue without
// specifying local state keeps the previously resolved links.
func TestApplyIssueInheritsLinks(t *testing.T) {
	prev := Issue{
		Scope:  "octo/reef",
		Number: 12,
		Title:  "flaky test",
		Local: IssueLocal{
			LinkedPulls: []LinkedReference{{Number: 40, State: "open", Title: "fix flake"}},
		},
	}
	in := Issue{Scope: "octo/reef", Number: 12, Title: "flaky test", State: "closed"}

	got := ApplyIssue(in, prev)
	if got.State != "closed" {
		t.Errorf("State = %q, want closed", got.State)
	}
	if len(got.Local.LinkedPulls) != 1 || got.Local.LinkedPulls[0].Number != 40 {
		t.Errorf("apply dropped linked pulls: %+v", got.Local)
	}
}

// TestApplyIssueReplacesLinks verifies that a mutation carrying local
// state replaces the prior links instead of merging with them.
func TestApplyIssueReplacesLinks(t *testing.T) {
	prev := Issue{
		Scope:  "octo/reef",
		Number: 12,
		Local: IssueLocal{
			LinkedPulls: []LinkedReference{{Number: 40}},
		},
	}
	in := Issue{
		Scope:  "octo/reef",
		Number: 12,
		Local: IssueLocal{
			LinkedPulls: []LinkedReference{{Number: 41}, {Number: 44}},
		},
	}

	got := ApplyIssue(in, prev)
	if len(got.Local.LinkedPulls) != 2 {
		t.Fatalf("got %d linked pulls, want 2", len(got.Local.LinkedPulls))
	}
	if got.Local.LinkedPulls[0].Number != 41 || got.Local.LinkedPulls[1].Number != 44 {
		t.Errorf("unexpected links: %+v", got.Local.LinkedPulls)
	}
}

// TestIssueLocalIsZero verifies zero detection, which gates whether a
// mutation inherits or replaces local state.
func TestIssueLocalIsZero(t *testing.T) {
	if !(IssueLocal{}).IsZero() {
		t.Error("empty IssueLocal should be zero")
	}
	if (IssueLocal{UpdatingLinks: true}).IsZero() {
		t.Error("UpdatingLinks should make IssueLocal non-zero")
	}
	if (IssueLocal{LinkedPulls: []LinkedReference{{Number: 1}}}).IsZero() {
		t.Error("LinkedPulls should make IssueLocal non-zero")
	}
	if (IssueLocal{LinkedPulls: []LinkedReference{}}).IsZero() {
		t.Error("explicitly empty LinkedPulls should be non-zero")
	}
}

// TestApplyIssueClearsWithEmptySlice verifies that an explicitly
// empty link set replaces prior links instead of inheriting them.
func TestApplyIssueClearsWithEmptySlice(t *testing.T) {
	prev := Issue{
		Scope:  "octo/reef",
		Number: 12,
		Local:  IssueLocal{LinkedPulls: []LinkedReference{{Number: 40}}},
	}
	in := Issue{
		Scope:  "octo/reef",
		Number: 12,
		Local:  IssueLocal{LinkedPulls: []LinkedReference{}},
	}

	got := ApplyIssue(in, prev)
	if got.Local.LinkedPulls == nil || len(got.Local.LinkedPulls) != 0 {
		t.Errorf("links not cleared: %+v", got.Local)
	}
}

// TestLabelKeyUsesProviderID verifies that labels key on the numeric
// provider ID since they have no number of their own.
func TestLabelKeyUsesProviderID(t *testing.T) {
	l := Label{Scope: "octo/reef", ID: 9001, Name: "bug"}
	want := CompositeKey{Scope: "octo/reef", Number: 9001}
	if l.Key() != want {
		t.Errorf("Key() = %v, want %v", l.Key(), want)
	}
}
