// Package tui renders a live scenario run: step statuses update as the
// engine records them, and the final summary replaces the spinner when the
// run completes.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aerovista/skyconform/pkg/result"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	skipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// StepMsg delivers one step status change to the model.
type StepMsg struct {
	Result result.StepResult
}

// DoneMsg signals run completion with the final result.
type DoneMsg struct {
	Result *result.ScenarioResult
}

// stepLine is one row of the live step table.
type stepLine struct {
	result result.StepResult
}

// Model is the Bubble Tea model for a watched run.
type Model struct {
	scenario string
	runID    string
	spin     spinner.Model

	byID  map[string]int
	lines []stepLine

	final *result.ScenarioResult
	quit  bool
}

// NewModel creates a watch model for the named scenario run.
func NewModel(scenario, runID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	return Model{
		scenario: scenario,
		runID:    runID,
		spin:     sp,
		byID:     make(map[string]int),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}

	case StepMsg:
		m.apply(msg.Result)
		return m, nil

	case DoneMsg:
		m.final = msg.Result
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply upserts a step row, preserving first-seen order.
func (m *Model) apply(r result.StepResult) {
	if i, ok := m.byID[r.ID]; ok {
		m.lines[i].result = r
		return
	}
	m.byID[r.ID] = len(m.lines)
	m.lines = append(m.lines, stepLine{result: r})
}

// Interrupted reports whether the operator quit before completion.
func (m Model) Interrupted() bool { return m.quit && m.final == nil }

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("  %s  (%s)", m.scenario, m.runID)))
	b.WriteString("\n\n")

	for _, line := range m.lines {
		r := line.result
		row := fmt.Sprintf("  %s %s [%s]", m.icon(r.Status), r.ID, r.Name)
		if r.Status.Terminal() && r.Duration > 0 {
			row += dimStyle.Render(fmt.Sprintf("  %s", r.Duration.Round(time.Millisecond)))
		}
		if r.Status == result.StatusSkip && r.Error != "" {
			row += skipStyle.Render("  " + r.Error)
		}
		if r.Status == result.StatusFail && r.Error != "" {
			row += failStyle.Render("  " + r.Error)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.final == nil:
		b.WriteString(dimStyle.Render("  running...  q: quit"))
	case m.final.Status == result.StatusPass:
		sum := m.final.Summarize()
		b.WriteString(passStyle.Render(fmt.Sprintf("  PASS  %d steps, %d skipped", sum.Total, sum.Skipped)))
	default:
		sum := m.final.Summarize()
		msg := fmt.Sprintf("  FAIL  %d of %d steps failed", sum.Failed, sum.Total)
		if m.final.Error != "" {
			msg += "  " + m.final.Error
		}
		b.WriteString(failStyle.Render(msg))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) icon(s result.Status) string {
	switch s {
	case result.StatusRunning:
		return m.spin.View()
	case result.StatusPass:
		return passStyle.Render("✓")
	case result.StatusFail:
		return failStyle.Render("✗")
	case result.StatusSkip:
		return skipStyle.Render("⊘")
	default:
		return "○"
	}
}

// Watch runs the model attached to an executing engine: feed is called with
// the program so the caller can forward observer events.
func Watch(scenario, runID string, attach func(p *tea.Program)) (*result.ScenarioResult, error) {
	m := NewModel(scenario, runID)
	p := tea.NewProgram(m)
	attach(p)
	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}
	final := finalModel.(Model)
	if final.Interrupted() {
		return nil, fmt.Errorf("watch aborted by operator")
	}
	return final.final, nil
}
