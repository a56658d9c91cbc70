package forge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/perch-review/perch/internal/cache"
)

// TestDefaultStubServesAllKinds verifies the built-in dataset covers
// repositories, pulls, issues, labels and threads.
func TestDefaultStubServesAllKinds(t *testing.T) {
	s := DefaultStub()
	ctx := context.Background()

	repos, err := s.ListRepositories(ctx)
	if err != nil {
		t.Fatalf("ListRepositories failed: %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("got %d repositories, want 2", len(repos))
	}
	if repos[0].Scope != "octo/reef" {
		t.Errorf("first repo = %s, want octo/reef (most recently updated)", repos[0].Scope)
	}

	pulls, err := s.ListPulls(ctx, "octo/reef")
	if err != nil {
		t.Fatalf("ListPulls failed: %v", err)
	}
	if len(pulls) != 2 {
		t.Errorf("got %d pulls, want 2", len(pulls))
	}

	issues, err := s.ListIssues(ctx, "octo/reef")
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 2 {
		t.Errorf("got %d issues, want 2", len(issues))
	}

	labels, err := s.ListLabels(ctx, "octo/reef")
	if err != nil {
		t.Fatalf("ListLabels failed: %v", err)
	}
	if len(labels) != 2 {
		t.Errorf("got %d labels, want 2", len(labels))
	}

	threads, err := s.ListReviewThreads(ctx, "octo/reef", 41)
	if err != nil {
		t.Fatalf("ListReviewThreads failed: %v", err)
	}
	if len(threads) != 1 || len(threads[0].Comments) != 2 {
		t.Errorf("unexpected threads: %+v", threads)
	}
}

// TestStubUnknownScope verifies the not-found classification for
// repositories outside the fixture.
func TestStubUnknownScope(t *testing.T) {
	s := DefaultStub()
	_, err := s.ListPulls(context.Background(), "octo/gone")
	if !IsKind(err, KindNotFound) {
		t.Errorf("error = %v, want KindNotFound", err)
	}
}

// TestStubLinkedPullsFromClosingEdges verifies the link graph derives
// from the pulls' closing references.
func TestStubLinkedPullsFromClosingEdges(t *testing.T) {
	s := DefaultStub()
	refs, err := s.LinkedPullsForIssue(context.Background(), "octo/reef", 12)
	if err != nil {
		t.Fatalf("LinkedPullsForIssue failed: %v", err)
	}
	if len(refs) != 1 || refs[0].Number != 41 {
		t.Fatalf("refs = %+v, want one reference to #41", refs)
	}
	if refs[0].State != "open" || refs[0].Author != "mgriffin" {
		t.Errorf("reference fields wrong: %+v", refs[0])
	}
}

// TestStubUpdatePullBodyDoesNotMoveEdges verifies the provider-lag
// behavior: a body edit changes the body but leaves the stored link
// graph alone until the next full refresh would observe it.
func TestStubUpdatePullBodyDoesNotMoveEdges(t *testing.T) {
	s := DefaultStub()
	ctx := context.Background()

	updated, err := s.UpdatePullBody(ctx, "octo/reef", 41, "New body.\n\nCloses #9")
	if err != nil {
		t.Fatalf("UpdatePullBody failed: %v", err)
	}
	if updated.Body != "New body.\n\nCloses #9" {
		t.Errorf("body = %q", updated.Body)
	}

	refs, err := s.LinkedPullsForIssue(ctx, "octo/reef", 12)
	if err != nil {
		t.Fatalf("LinkedPullsForIssue failed: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("link graph moved immediately after body edit: %+v", refs)
	}
}

// TestStubCreateAndUpdateLabel verifies the label mutation flow and ID
// assignment.
func TestStubCreateAndUpdateLabel(t *testing.T) {
	s := DefaultStub()
	ctx := context.Background()

	created, err := s.CreateLabel(ctx, "octo/reef", cache.Label{Name: "perf", Color: "1d76db"})
	if err != nil {
		t.Fatalf("CreateLabel failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("created label has no ID")
	}

	updated, err := s.UpdateLabel(ctx, "octo/reef", cache.Label{ID: created.ID, Description: "Hot paths"})
	if err != nil {
		t.Fatalf("UpdateLabel failed: %v", err)
	}
	if updated.Name != "perf" || updated.Description != "Hot paths" {
		t.Errorf("update mangled label: %+v", updated)
	}

	_, err = s.UpdateLabel(ctx, "octo/reef", cache.Label{ID: 999999})
	if !IsKind(err, KindNotFound) {
		t.Errorf("updating unknown label: error = %v, want KindNotFound", err)
	}
}

// TestLoadStubFixture verifies TOML fixture parsing end to end.
func TestLoadStubFixture(t *testing.T) {
	fixture := `
[[repositories]]
scope = "acme/widgets"
description = "Widget factory"
updated_at = 2026-03-01T10:00:00Z

[[pulls]]
scope = "acme/widgets"
number = 5
title = "Tighten tolerances"
body = "Closes #2"
state = "open"
author = "rlee"
head_ref = "tolerances"
base_ref = "main"
closing_issues = [2]
created_at = 2026-02-20T08:00:00Z
updated_at = 2026-02-28T08:00:00Z

[[issues]]
scope = "acme/widgets"
number = 2
title = "Widgets rattle"
state = "open"
author = "kpatel"
created_at = 2026-02-18T08:00:00Z
updated_at = 2026-02-27T08:00:00Z

[[labels]]
scope = "acme/widgets"
id = 7
name = "qa"
color = "fbca04"
`
	path := filepath.Join(t.TempDir(), "fixture.toml")
	if err := os.WriteFile(path, []byte(fixture), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	s, err := LoadStub(path)
	if err != nil {
		t.Fatalf("LoadStub failed: %v", err)
	}

	ctx := context.Background()
	pulls, err := s.ListPulls(ctx, "acme/widgets")
	if err != nil {
		t.Fatalf("ListPulls failed: %v", err)
	}
	if len(pulls) != 1 || pulls[0].Title != "Tighten tolerances" {
		t.Fatalf("pulls = %+v", pulls)
	}
	if pulls[0].UpdatedAt.IsZero() {
		t.Error("fixture timestamp not parsed")
	}

	refs, err := s.LinkedPullsForIssue(ctx, "acme/widgets", 2)
	if err != nil {
		t.Fatalf("LinkedPullsForIssue failed: %v", err)
	}
	if len(refs) != 1 || refs[0].Number != 5 {
		t.Errorf("refs = %+v", refs)
	}

	labels, err := s.ListLabels(ctx, "acme/widgets")
	if err != nil {
		t.Fatalf("ListLabels failed: %v", err)
	}
	if len(labels) != 1 || labels[0].ID != 7 || labels[0].Name != "qa" {
		t.Errorf("labels = %+v", labels)
	}
}

// TestLoadStubMissingFile verifies the error path.
func TestLoadStubMissingFile(t *testing.T) {
	if _, err := LoadStub(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("LoadStub succeeded on a missing file")
	}
}
