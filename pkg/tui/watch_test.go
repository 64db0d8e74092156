package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aerovista/skyconform/pkg/result"
)

func step(id string, status result.Status) StepMsg {
	return StepMsg{Result: result.StepResult{
		ID: id, Name: "utm.upload_plan", Status: status, Duration: 50 * time.Millisecond,
	}}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestModelTracksStatusTransitions(t *testing.T) {
	m := NewModel("vlos-activation", "run-1")

	m = update(t, m, step("upload", result.StatusRunning))
	m = update(t, m, step("upload", result.StatusPass))
	m = update(t, m, step("activate", result.StatusRunning))

	if len(m.lines) != 2 {
		t.Fatalf("lines = %d, want an upsert per step id", len(m.lines))
	}
	if m.lines[0].result.Status != result.StatusPass {
		t.Errorf("upload = %s, want PASS after the terminal transition", m.lines[0].result.Status)
	}

	view := m.View()
	if !strings.Contains(view, "vlos-activation") || !strings.Contains(view, "upload") {
		t.Errorf("view missing header or step row:\n%s", view)
	}
	if !strings.Contains(view, "running...") {
		t.Errorf("view missing live status bar:\n%s", view)
	}
}

func TestModelRendersFinalSummary(t *testing.T) {
	m := NewModel("vlos-activation", "run-1")
	m = update(t, m, step("upload", result.StatusPass))
	m = update(t, m, step("activate", result.StatusFail))

	final := &result.ScenarioResult{
		Scenario: "vlos-activation",
		Status:   result.StatusFail,
		Steps: []result.StepResult{
			{ID: "upload", Status: result.StatusPass},
			{ID: "activate", Status: result.StatusFail},
		},
	}
	next, cmd := m.Update(DoneMsg{Result: final})
	m = next.(Model)
	if cmd == nil {
		t.Error("completion should quit the program")
	}

	view := m.View()
	if !strings.Contains(view, "FAIL") || !strings.Contains(view, "1 of 2") {
		t.Errorf("final view = %s", view)
	}
	if m.Interrupted() {
		t.Error("a completed run is not an interruption")
	}
}

func TestModelQuitMarksInterrupted(t *testing.T) {
	m := NewModel("vlos-activation", "run-1")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = next.(Model)
	if cmd == nil {
		t.Error("q should quit")
	}
	if !m.Interrupted() {
		t.Error("quitting mid-run is an interruption")
	}
}
