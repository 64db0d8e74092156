package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aerovista/skyconform/pkg/result"
)

// RunManifest records the complete metadata for a scenario run.
// Written as run.yaml in the run's artifacts directory.
type RunManifest struct {
	RunID        string         `yaml:"run_id"          json:"run_id"`
	Scenario     string         `yaml:"scenario"        json:"scenario"`
	Status       result.Status  `yaml:"status"          json:"status"`
	StartedAt    string         `yaml:"started_at"      json:"started_at"`
	EndedAt      string         `yaml:"ended_at"        json:"ended_at"`
	Error        string         `yaml:"error,omitempty" json:"error,omitempty"`
	StepsSummary result.Summary `yaml:"steps_summary"   json:"steps_summary"`
}

// BuildManifest derives the manifest from a finished scenario result.
func BuildManifest(res *result.ScenarioResult) RunManifest {
	return RunManifest{
		RunID:        res.RunID,
		Scenario:     res.Scenario,
		Status:       res.Status,
		StartedAt:    res.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:      res.StartedAt.Add(res.Duration).UTC().Format(time.RFC3339),
		Error:        res.Error,
		StepsSummary: res.Summarize(),
	}
}

// WriteManifest writes run.yaml to the run artifacts directory.
func WriteManifest(dir string, res *result.ScenarioResult) error {
	data, err := yaml.Marshal(BuildManifest(res))
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Sink owns a run's artifacts directory: the live JSONL trace plus the
// manifest written at completion.
type Sink struct {
	Dir   string
	trace *TraceWriter
}

// NewSink creates the artifacts directory <base>/<run-id> and opens the
// trace inside it.
func NewSink(base, runID string) (*Sink, error) {
	dir := filepath.Join(base, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	tw, err := NewTraceWriter(filepath.Join(dir, "trace.jsonl"), runID)
	if err != nil {
		return nil, err
	}
	return &Sink{Dir: dir, trace: tw}, nil
}

// Observe is the engine observer hook recording step transitions.
func (s *Sink) Observe(r result.StepResult) {
	// Trace write failures must not disturb the run.
	_ = s.trace.Write(r)
}

// Finish writes the manifest and closes the trace.
func (s *Sink) Finish(res *result.ScenarioResult) error {
	if err := WriteManifest(s.Dir, res); err != nil {
		s.trace.Close()
		return err
	}
	return s.trace.Close()
}
