package forge

import (
	"testing"
	"time"
)

// TestLabelNumberStable verifies that the derived label number is
// deterministic and positive, since it feeds the composite cache key.
func TestLabelNumberStable(t *testing.T) {
	a := labelNumber("LA_kwDOAbc123")
	b := labelNumber("LA_kwDOAbc123")
	if a != b {
		t.Errorf("labelNumber not deterministic: %d vs %d", a, b)
	}
	if a <= 0 {
		t.Errorf("labelNumber = %d, want positive", a)
	}
	if labelNumber("LA_other") == a {
		t.Error("distinct node IDs collided")
	}
}

// TestPullNodeToRecord verifies the GraphQL node mapping, including
// state normalization and nested label and closing-issue flattening.
func TestPullNodeToRecord(t *testing.T) {
	merged := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)
	n := pullNode{
		ID:             "PR_node",
		Number:         77,
		Title:          "Speed up archive loads",
		State:          "MERGED",
		Merged:         true,
		HeadRefName:    "fast-load",
		BaseRefName:    "main",
		ReviewDecision: "APPROVED",
		CreatedAt:      merged.Add(-48 * time.Hour),
		UpdatedAt:      merged,
		MergedAt:       &merged,
	}
	n.Author.Login = "rlee"
	n.Labels.Nodes = []struct {
		Name string `graphql:"name"`
	}{{Name: "perf"}, {Name: "bug"}}
	n.ClosingIssuesReferences.Nodes = []struct {
		Number int `graphql:"number"`
	}{{Number: 8}}

	rec := n.toRecord("octo/reef")
	if rec.State != "merged" {
		t.Errorf("State = %q, want merged", rec.State)
	}
	if rec.ReviewDecision != "approved" {
		t.Errorf("ReviewDecision = %q, want approved", rec.ReviewDecision)
	}
	if rec.Key().String() != "octo/reef#77" {
		t.Errorf("Key = %s", rec.Key())
	}
	if len(rec.Labels) != 2 || rec.Labels[0] != "perf" {
		t.Errorf("Labels = %v", rec.Labels)
	}
	if len(rec.ClosingIssues) != 1 || rec.ClosingIssues[0] != 8 {
		t.Errorf("ClosingIssues = %v", rec.ClosingIssues)
	}
	if rec.MergedAt == nil || !rec.MergedAt.Equal(merged) {
		t.Errorf("MergedAt = %v", rec.MergedAt)
	}
}

// TestIssueNodeToRecord verifies issue mapping including assignees and
// comment counts.
func TestIssueNodeToRecord(t *testing.T) {
	n := issueNode{
		ID:     "I_node",
		Number: 12,
		Title:  "Fetches fail",
		State:  "OPEN",
	}
	n.Author.Login = "tsutton"
	n.Assignees.Nodes = []struct {
		Login string `graphql:"login"`
	}{{Login: "mgriffin"}}
	n.Comments.TotalCount = 4

	rec := n.toRecord("octo/reef")
	if rec.State != "open" {
		t.Errorf("State = %q, want open", rec.State)
	}
	if len(rec.Assignees) != 1 || rec.Assignees[0] != "mgriffin" {
		t.Errorf("Assignees = %v", rec.Assignees)
	}
	if rec.Comments != 4 {
		t.Errorf("Comments = %d, want 4", rec.Comments)
	}
}

// TestLinkedNodeToReference verifies the lightweight reference
// mapping.
func TestLinkedNodeToReference(t *testing.T) {
	n := linkedNode{
		ID:          "PR_link",
		Number:      41,
		State:       "OPEN",
		IsDraft:     true,
		Title:       "Retry fetches",
		HeadRefName: "retry-fetch",
	}
	n.Author.Login = "mgriffin"

	ref := n.toReference()
	if ref.State != "open" || !ref.Draft || ref.Number != 41 {
		t.Errorf("reference = %+v", ref)
	}
	if ref.HeadRef != "retry-fetch" || ref.Author != "mgriffin" {
		t.Errorf("reference fields = %+v", ref)
	}
}
