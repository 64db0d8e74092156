// Package report produces a run's artifacts: the JSONL step trace, the
// run.yaml manifest, and the rendered terminal summary.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aerovista/skyconform/pkg/result"
)

// TraceEvent wraps a StepResult for JSONL trace output with extra metadata.
type TraceEvent struct {
	Type      string            `json:"type"` // step_result
	Timestamp time.Time         `json:"timestamp"`
	RunID     string            `json:"run_id"`
	Result    result.StepResult `json:"result"`
}

// TraceWriter appends StepResult events to a JSONL trace file. Wired as the
// engine's observer, so the trace holds RUNNING transitions as well as
// terminal statuses.
type TraceWriter struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewTraceWriter creates a trace writer that appends to the given file.
func NewTraceWriter(path, runID string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &TraceWriter{
		runID:  runID,
		file:   f,
		writer: w,
		enc:    json.NewEncoder(w),
	}, nil
}

// Write appends one step event and flushes to disk.
func (tw *TraceWriter) Write(r result.StepResult) error {
	event := TraceEvent{
		Type:      "step_result",
		Timestamp: time.Now(),
		RunID:     tw.runID,
		Result:    r,
	}
	if err := tw.enc.Encode(event); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	// Flush and sync at step boundaries
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("sync trace: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (tw *TraceWriter) Close() error {
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	return tw.file.Close()
}
