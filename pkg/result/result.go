// Package result defines the outcome types produced by scenario execution:
// per-step results, the aggregate scenario result, and the session-scoped
// result store.
package result

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a step instance.
type Status string

const (
	// StatusRunning is the transient pre-state recorded on dispatch so
	// concurrent observers (live UI, serve) see in-flight steps.
	StatusRunning Status = "RUNNING"
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusSkip    Status = "SKIP"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusPass || s == StatusFail || s == StatusSkip
}

// StepResult is the outcome of one executed (or skipped) step instance.
// For looped steps the ID carries the iteration suffix: "<step-id>[<index>]".
// Write-once after reaching a terminal status.
type StepResult struct {
	ID        string        `json:"id"                yaml:"id"`
	Name      string        `json:"name"              yaml:"name"` // capability name
	Status    Status        `json:"status"            yaml:"status"`
	StartedAt time.Time     `json:"started_at"        yaml:"started_at"`
	Duration  time.Duration `json:"duration"          yaml:"duration"`
	Value     any           `json:"result,omitempty"  yaml:"result,omitempty"` // capability return value, opaque to the engine
	Error     string        `json:"error,omitempty"   yaml:"error,omitempty"`
}

// IterationID builds the result id for one loop iteration of a step.
func IterationID(stepID string, index int) string {
	return fmt.Sprintf("%s[%d]", stepID, index)
}

// ScenarioResult is the aggregate outcome of one scenario run.
type ScenarioResult struct {
	Scenario  string        `json:"scenario"         yaml:"scenario"`
	RunID     string        `json:"run_id"           yaml:"run_id"`
	Status    Status        `json:"status"           yaml:"status"`
	StartedAt time.Time     `json:"started_at"       yaml:"started_at"`
	Duration  time.Duration `json:"duration"         yaml:"duration"`
	Steps     []StepResult  `json:"steps"            yaml:"steps"`
	Error     string        `json:"error,omitempty"  yaml:"error,omitempty"` // scenario-level failure (wiring errors)
}

// Summary counts step results by status.
type Summary struct {
	Total   int `json:"total"   yaml:"total"`
	Passed  int `json:"passed"  yaml:"passed"`
	Failed  int `json:"failed"  yaml:"failed"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Summarize tallies the scenario's steps by terminal status.
func (r *ScenarioResult) Summarize() Summary {
	var s Summary
	for _, sr := range r.Steps {
		s.Total++
		switch sr.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusSkip:
			s.Skipped++
		}
	}
	return s
}
