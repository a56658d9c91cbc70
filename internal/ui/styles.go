package ui

import "github.com/charmbracelet/lipgloss"

var (
	// State colors
	colorOpen    = lipgloss.Color("46")  // green
	colorDraft   = lipgloss.Color("240") // gray
	colorMerged  = lipgloss.Color("135") // purple
	colorClosed  = lipgloss.Color("196") // red
	colorPending = lipgloss.Color("214") // orange

	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	scopeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("cyan"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46"))

	openBadge    = lipgloss.NewStyle().Foreground(colorOpen)
	draftBadge   = lipgloss.NewStyle().Foreground(colorDraft)
	mergedBadge  = lipgloss.NewStyle().Foreground(colorMerged)
	closedBadge  = lipgloss.NewStyle().Foreground(colorClosed)
	pendingBadge = lipgloss.NewStyle().Foreground(colorPending)
)

// Header renders a bold section heading.
func Header(s string) string { return headerStyle.Render(s) }

// Scope renders a repository scope tag.
func Scope(s string) string { return scopeStyle.Render(s) }

// Dim renders secondary text.
func Dim(s string) string { return dimStyle.Render(s) }

// ErrorLine renders an error message.
func ErrorLine(s string) string { return errorStyle.Render(s) }

// Success renders a success message.
func Success(s string) string { return successStyle.Render(s) }
