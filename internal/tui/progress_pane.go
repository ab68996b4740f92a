package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/conductor/internal/events"
)

// ProgressPaneModel shows graph-wide progress counts and the current wave.
type ProgressPaneModel struct {
	total      int
	passed     int
	inProgress int
	failed     int
	blocked    int
	pending    int
	wave       int
	result     string // set once the run finishes
	width      int
	height     int
	focused    bool
}

func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.WaveStartedEvent:
		m.wave = msg.Wave

	case events.GraphProgressEvent:
		m.total = msg.Total
		m.passed = msg.Passed
		m.inProgress = msg.InProgress
		m.failed = msg.Failed
		m.blocked = msg.Blocked
		m.pending = msg.Pending

	case events.RunFinishedEvent:
		m.result = msg.Result
	}

	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Graph Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.wave > 0 {
		fmt.Fprintf(&b, "Wave:        %d\n", m.wave)
	}
	fmt.Fprintf(&b, "Total:       %d\n", m.total)
	fmt.Fprintf(&b, "Passed:      %s\n", StyleStatusPassed.Render(fmt.Sprintf("%d", m.passed)))
	fmt.Fprintf(&b, "In progress: %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.inProgress)))
	fmt.Fprintf(&b, "Failed:      %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed)))
	fmt.Fprintf(&b, "Blocked:     %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.blocked)))
	fmt.Fprintf(&b, "Pending:     %s\n", StyleStatusIdle.Render(fmt.Sprintf("%d", m.pending)))

	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		passedWidth := (m.passed * barWidth) / m.total
		failedWidth := ((m.failed + m.blocked) * barWidth) / m.total
		runningWidth := (m.inProgress * barWidth) / m.total
		pendingWidth := barWidth - passedWidth - failedWidth - runningWidth

		bar := StyleStatusPassed.Render(strings.Repeat("=", max(0, passedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusIdle.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, m.passed, m.total)
	}

	if m.result != "" {
		b.WriteString("\n")
		style := StyleStatusPassed
		if m.result != "COMPLETE" {
			style = StyleStatusFailed
		}
		b.WriteString(style.Render(fmt.Sprintf("Run finished: %s", m.result)))
		b.WriteString("\n")
	}

	content := b.String()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
