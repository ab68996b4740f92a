package orchestrator

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/conductor/internal/state"
)

var (
	summaryTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	summaryHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	summaryPassed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green"))

	summaryFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red"))

	summaryBlocked = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Bold(true)

	summaryPending = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	summaryStuck = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow"))
)

// Summary renders a run result as a terminal report: outcome, the task
// table, and the stuck diagnosis when the run is blocked.
func Summary(result *Result) string {
	var b strings.Builder

	b.WriteString(summaryTitle.Render(fmt.Sprintf("Run result: %s", result.Outcome)))
	b.WriteString("\n\n")

	if len(result.Plan) > 0 {
		b.WriteString(summaryHeader.Render("Planned waves"))
		b.WriteString("\n")
		for i, wave := range result.Plan {
			fmt.Fprintf(&b, "  wave %d: %s\n", i+1, strings.Join(wave, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString(TaskTable(result.Tasks))

	if len(result.Stuck) > 0 {
		b.WriteString("\n")
		b.WriteString(summaryHeader.Render("Stuck tasks"))
		b.WriteString("\n")
		for _, s := range result.Stuck {
			line := fmt.Sprintf("  %s: %s", s.ID, s.Reason)
			if s.RootCause != "" && s.RootCause != s.ID {
				line += fmt.Sprintf(" (root cause: %s)", s.RootCause)
			}
			b.WriteString(summaryStuck.Render(line))
			b.WriteString("\n")
		}
	}

	if result.Spawns > 0 || result.Waves > 0 {
		fmt.Fprintf(&b, "\n%d wave(s), %d worker(s) spawned\n", result.Waves, result.Spawns)
	}

	return b.String()
}

// TaskTable renders the per-task status table.
func TaskTable(tasks []state.Task) string {
	var b strings.Builder

	idWidth := len("TASK")
	for _, t := range tasks {
		if len(t.ID) > idWidth {
			idWidth = len(t.ID)
		}
	}

	fmt.Fprintf(&b, "%s\n", summaryHeader.Render(
		fmt.Sprintf("%-*s  %-12s  %4s  %8s", idWidth, "TASK", "STATUS", "WAVE", "ATTEMPTS")))

	for _, t := range tasks {
		row := fmt.Sprintf("%-*s  %-12s  %4d  %8d", idWidth, t.ID, t.Status, t.Wave, t.Retries.Attempts)
		b.WriteString(statusStyle(t.Status).Render(row))
		b.WriteString("\n")
	}
	return b.String()
}

func statusStyle(s state.Status) lipgloss.Style {
	switch s {
	case state.StatusPassed:
		return summaryPassed
	case state.StatusFailed:
		return summaryFailed
	case state.StatusBlocked:
		return summaryBlocked
	default:
		return summaryPending
	}
}
