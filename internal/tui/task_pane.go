package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/conductor/internal/events"
)

// TaskState tracks one spawned task for display.
type TaskState struct {
	ID        string
	Title     string
	Wave      int
	Workspace string
	Status    string // "running", "passed", "failed", "crashed", "timed_out"
	Log       []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel is the task list plus the selected task's event log.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	taskOrder   []string // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

func NewTaskPaneModel() TaskPaneModel {
	vp := viewport.New(0, 0)
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: vp,
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskSpawnedEvent:
		t, exists := m.tasks[msg.ID]
		if !exists {
			t = &TaskState{ID: msg.ID, Title: msg.Title}
			m.tasks[msg.ID] = t
			m.taskOrder = append(m.taskOrder, msg.ID)
		}
		t.Status = "running"
		t.Wave = msg.Wave
		t.Workspace = msg.Workspace
		t.StartTime = msg.Timestamp
		t.Log = append(t.Log, fmt.Sprintf("[wave %d] spawned in %s", msg.Wave, msg.Workspace))
		if len(m.taskOrder) == 1 {
			m.selectedIdx = 0
		}
		if m.selectedTaskID() == msg.ID {
			m.updateViewportContent()
		}

	case events.TaskOutcomeEvent:
		if t, exists := m.tasks[msg.ID]; exists {
			t.Status = msg.Outcome
			t.Duration = msg.Duration
			t.Log = append(t.Log, fmt.Sprintf("%s after %v (attempt %d)", msg.Outcome, msg.Duration.Round(time.Second), msg.Attempts))
			if m.selectedTaskID() == msg.ID {
				m.updateViewportContent()
			}
		}

	case events.TaskMergedEvent:
		if t, exists := m.tasks[msg.ID]; exists {
			if msg.Merged {
				t.Log = append(t.Log, "merged into base")
			} else {
				t.Log = append(t.Log, fmt.Sprintf("merge conflict: %s", strings.Join(msg.ConflictFiles, ", ")))
			}
			if m.selectedTaskID() == msg.ID {
				m.updateViewportContent()
			}
		}
	}

	return m, cmd
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusIdle.Render("Waiting..."))
	} else {
		for i, id := range m.taskOrder {
			t := m.tasks[id]
			icon := m.StatusIcon(t.Status)
			label := t.ID
			if len(label) > width-6 {
				label = label[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", icon, label)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func (m TaskPaneModel) StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "passed", "succeeded":
		return StyleStatusPassed.Render("✓")
	case "timed_out":
		return StyleStatusStalled.Render("✗")
	case "failed", "crashed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusIdle.Render("○")
	}
}

func (m TaskPaneModel) selectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// updateViewportContent fills the viewport with the selected task's log.
func (m *TaskPaneModel) updateViewportContent() {
	id := m.selectedTaskID()
	t, exists := m.tasks[id]
	if id == "" || !exists {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s", t.ID)
	if t.Title != "" {
		fmt.Fprintf(&b, " (%s)", t.Title)
	}
	b.WriteString("\n\n")
	b.WriteString(strings.Join(t.Log, "\n"))

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	listWidth := 28
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
