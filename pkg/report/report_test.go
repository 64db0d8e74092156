package report

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aerovista/skyconform/pkg/result"
)

func sampleResult() *result.ScenarioResult {
	return &result.ScenarioResult{
		Scenario:  "vlos-activation",
		RunID:     "20260830T101500-abcd",
		Status:    result.StatusFail,
		StartedAt: time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC),
		Duration:  3200 * time.Millisecond,
		Steps: []result.StepResult{
			{ID: "upload", Name: "utm.upload_plan", Status: result.StatusPass, Duration: 120 * time.Millisecond},
			{ID: "activate", Name: "utm.activate_plan", Status: result.StatusFail, Error: "service returned 409", Duration: 80 * time.Millisecond},
			{ID: "close", Name: "utm.close_plan", Status: result.StatusSkip, Error: "previous step failure"},
		},
	}
}

func TestSinkWritesTraceAndManifest(t *testing.T) {
	base := t.TempDir()
	res := sampleResult()

	sink, err := NewSink(base, res.RunID)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	for _, sr := range res.Steps {
		sink.Observe(sr)
	}
	if err := sink.Finish(res); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// Trace: one JSONL event per observed transition.
	f, err := os.Open(filepath.Join(base, res.RunID, "trace.jsonl"))
	if err != nil {
		t.Fatalf("open trace: %v", err)
	}
	defer f.Close()
	var events []TraceEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev TraceEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decode trace line: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("trace has %d events, want 3", len(events))
	}
	if events[0].Type != "step_result" || events[0].RunID != res.RunID {
		t.Errorf("event envelope = %+v", events[0])
	}
	if events[1].Result.Status != result.StatusFail {
		t.Errorf("second event status = %s, want FAIL", events[1].Result.Status)
	}

	// Manifest.
	data, err := os.ReadFile(filepath.Join(base, res.RunID, "run.yaml"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m RunManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.RunID != res.RunID || m.Status != result.StatusFail {
		t.Errorf("manifest = %+v", m)
	}
	if m.StepsSummary.Passed != 1 || m.StepsSummary.Failed != 1 || m.StepsSummary.Skipped != 1 {
		t.Errorf("steps summary = %+v", m.StepsSummary)
	}
	if m.StartedAt != "2026-08-30T10:15:00Z" {
		t.Errorf("started_at = %s", m.StartedAt)
	}
}

func TestMarkdownSummary(t *testing.T) {
	md := Markdown(sampleResult())

	for _, want := range []string{
		"# vlos-activation — FAIL",
		"1 passed, 1 failed, 1 skipped",
		"utm.activate_plan",
		"service returned 409",
		"previous step failure",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestMarkdownEscapesTableCells(t *testing.T) {
	res := sampleResult()
	res.Steps[1].Error = "line one\nline two | with pipe"
	md := Markdown(res)
	if strings.Contains(md, "line one\nline two") {
		t.Error("newline not flattened in table cell")
	}
	if !strings.Contains(md, `\|`) {
		t.Error("pipe not escaped in table cell")
	}
}
