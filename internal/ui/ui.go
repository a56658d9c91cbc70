// Package ui renders perch's terminal output: state badges, aligned
// tables, relative times, and the sync progress bar shared by the CLI
// commands.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/perch-review/perch/internal/cache"
)

// ConfigureColor pins lipgloss's color profile for the process. Color
// is off when forced off, when NO_COLOR is set (termenv honors it), or
// when stdout is not a terminal.
func ConfigureColor(noColor bool) {
	if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// IsTTY reports whether stdout is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the usable terminal width, falling back to 100 columns
// when stdout is not a terminal.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

// PullBadge renders a pull request's state as a colored word. Merged
// wins over closed, draft over open, matching how the provider shows
// them.
func PullBadge(pr cache.PullRequest) string {
	switch {
	case pr.Merged:
		return mergedBadge.Render("merged")
	case pr.Draft:
		return draftBadge.Render("draft")
	case pr.State == "open":
		return openBadge.Render("open")
	default:
		return closedBadge.Render("closed")
	}
}

// IssueBadge renders an issue's state as a colored word.
func IssueBadge(issue cache.Issue) string {
	if issue.State == "open" {
		return openBadge.Render("open")
	}
	return closedBadge.Render("closed")
}

// LinkNote renders the issue's link status: the linked pull request
// numbers, or a pending marker while a link edit is round-tripping.
func LinkNote(issue cache.Issue) string {
	if issue.Local.UpdatingLinks {
		return pendingBadge.Render("updating links...")
	}
	if len(issue.Local.LinkedPulls) == 0 {
		return ""
	}
	refs := make([]string, len(issue.Local.LinkedPulls))
	for i, ref := range issue.Local.LinkedPulls {
		refs[i] = fmt.Sprintf("#%d", ref.Number)
	}
	return dimStyle.Render("linked " + strings.Join(refs, " "))
}

// LabelChip renders a label name tinted with its repository color.
func LabelChip(l cache.Label) string {
	if len(l.Color) == 6 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#" + l.Color)).Render(l.Name)
	}
	return l.Name
}

// RelativeTime formats t as a compact age: "3h ago".
func RelativeTime(t time.Time) string {
	return relativeSince(t, time.Now())
}

func relativeSince(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	case d < 365*24*time.Hour:
		return fmt.Sprintf("%dmo ago", int(d.Hours()/(24*30)))
	default:
		return fmt.Sprintf("%dy ago", int(d.Hours()/(24*365)))
	}
}

// Truncate shortens s to max runes, ending with an ellipsis.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max < 2 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// Table renders rows under a bold header, padding every column to its
// widest cell. Cell widths are measured after styling, so colored
// cells line up with plain ones.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(pad(headerStyle.Render(h), widths[i], i == len(headers)-1))
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				b.WriteString(pad(cell, widths[i], i == len(row)-1))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// pad right-pads cell to width plus a two-space gutter. The last
// column gets no trailing spaces.
func pad(cell string, width int, last bool) string {
	if last {
		return cell
	}
	gap := width - lipgloss.Width(cell) + 2
	if gap < 2 {
		gap = 2
	}
	return cell + strings.Repeat(" ", gap)
}

// ProgressBar renders percent as a fixed-width bar with a numeric
// suffix.
func ProgressBar(percent, width int) string {
	if width <= 0 {
		width = 20
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := width * percent / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("[%s] %3d%%", bar, percent)
}
