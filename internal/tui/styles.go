package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Pane borders. The focused pane carries the accent color so the
// active split is obvious at a glance.
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Task outcome colors. Stalled is its own color rather than plain
// failed: a timed-out worker was killed by the engine, not judged by
// its own completion token.
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusPassed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusStalled = lipgloss.NewStyle().
				Foreground(lipgloss.Color("208")).
				Bold(true)

	StyleStatusIdle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// Chrome.
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)
