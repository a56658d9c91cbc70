package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/perch-review/perch/internal/cache"
)

// plain strips styling so assertions see bare text.
func plain() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestPullBadge(t *testing.T) {
	plain()
	cases := []struct {
		pr   cache.PullRequest
		want string
	}{
		{cache.PullRequest{State: "closed", Merged: true}, "merged"},
		{cache.PullRequest{State: "open", Draft: true}, "draft"},
		{cache.PullRequest{State: "open"}, "open"},
		{cache.PullRequest{State: "closed"}, "closed"},
	}
	for _, tc := range cases {
		if got := PullBadge(tc.pr); got != tc.want {
			t.Errorf("PullBadge(%+v) = %q, want %q", tc.pr, got, tc.want)
		}
	}
}

func TestIssueBadge(t *testing.T) {
	plain()
	if got := IssueBadge(cache.Issue{State: "open"}); got != "open" {
		t.Errorf("IssueBadge(open) = %q", got)
	}
	if got := IssueBadge(cache.Issue{State: "closed"}); got != "closed" {
		t.Errorf("IssueBadge(closed) = %q", got)
	}
}

func TestLinkNote(t *testing.T) {
	plain()
	updating := cache.Issue{Local: cache.IssueLocal{UpdatingLinks: true}}
	if got := LinkNote(updating); got != "updating links..." {
		t.Errorf("LinkNote(updating) = %q", got)
	}

	linked := cache.Issue{Local: cache.IssueLocal{LinkedPulls: []cache.LinkedReference{
		{Number: 40}, {Number: 41},
	}}}
	if got := LinkNote(linked); got != "linked #40 #41" {
		t.Errorf("LinkNote(linked) = %q", got)
	}

	if got := LinkNote(cache.Issue{}); got != "" {
		t.Errorf("LinkNote(empty) = %q, want empty", got)
	}
}

func TestLabelChip(t *testing.T) {
	plain()
	if got := LabelChip(cache.Label{Name: "bug", Color: "d73a4a"}); got != "bug" {
		t.Errorf("LabelChip = %q, want bug", got)
	}
	if got := LabelChip(cache.Label{Name: "triage"}); got != "triage" {
		t.Errorf("LabelChip without color = %q", got)
	}
}

func TestRelativeSince(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{48 * time.Hour, "2d ago"},
		{40 * 24 * time.Hour, "1mo ago"},
		{800 * 24 * time.Hour, "2y ago"},
	}
	for _, tc := range cases {
		if got := relativeSince(now.Add(-tc.age), now); got != tc.want {
			t.Errorf("relativeSince(-%s) = %q, want %q", tc.age, got, tc.want)
		}
	}
	if got := relativeSince(time.Time{}, now); got != "never" {
		t.Errorf("relativeSince(zero) = %q, want never", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	if got := Truncate("a much longer title", 8); got != "a much …" {
		t.Errorf("Truncate(long) = %q", got)
	}
	if n := len([]rune(Truncate("a much longer title", 8))); n != 8 {
		t.Errorf("truncated length = %d, want 8", n)
	}
}

func TestTableAlignment(t *testing.T) {
	plain()
	out := Table(
		[]string{"NUM", "TITLE"},
		[][]string{
			{"1", "Fix retries"},
			{"12345", "Trim fronds"},
		},
	)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if lines[0] != "NUM    TITLE" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1      Fix retries" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if lines[2] != "12345  Trim fronds" {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestProgressBar(t *testing.T) {
	if got := ProgressBar(0, 10); got != "[░░░░░░░░░░]   0%" {
		t.Errorf("ProgressBar(0) = %q", got)
	}
	if got := ProgressBar(50, 10); got != "[█████░░░░░]  50%" {
		t.Errorf("ProgressBar(50) = %q", got)
	}
	if got := ProgressBar(100, 4); got != "[████] 100%" {
		t.Errorf("ProgressBar(100) = %q", got)
	}
	if got := ProgressBar(250, 4); got != "[████] 100%" {
		t.Errorf("ProgressBar(clamped) = %q", got)
	}
}
