package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aerovista/skyconform/pkg/schema"
)

// Task is the handle stored as a background step's result. A later join
// step consumes it and blocks until the detached invocation completes.
type Task struct {
	StepID     string
	Capability string

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	value any
	err   error
}

// Wait blocks until the task completes or ctx is cancelled, returning the
// joined capability's own outcome. Joining an already-cancelled task
// surfaces the cancellation as an error rather than hanging.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.value, t.err
	case <-ctx.Done():
		return nil, fmt.Errorf("join %s: %w", t.StepID, ctx.Err())
	}
}

// Done reports whether the task has completed.
func (t *Task) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// MarshalJSON renders the handle for result snapshots and reports; the
// underlying value is only observable through a join step.
func (t *Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"task":       t.StepID,
		"capability": t.Capability,
		"done":       t.Done(),
	})
}

// dispatchBackground starts a detached invocation and returns its handle.
// The dispatch itself always succeeds; the capability's outcome is surfaced
// by a join step, which records the task's own success or failure.
func (e *Engine) dispatchBackground(ctx context.Context, st *schema.Step, instanceID string, args map[string]any) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		StepID:     instanceID,
		Capability: st.Step,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	e.tasks = append(e.tasks, t)

	// The client is resolved before the goroutine starts: the resolver
	// session is not safe for concurrent use, and the engine may be
	// resolving for the next step while this task runs.
	d, _ := e.caps.Lookup(st.Step)
	client, err := e.sess.Resolve(d.ClientType())
	if err != nil {
		t.err = fmt.Errorf("resolve client for %s: %w", st.Step, err)
		cancel()
		close(t.done)
		return t
	}

	go func() {
		defer close(t.done)
		value, err := d.Invoke(taskCtx, client, args)
		t.mu.Lock()
		t.value = value
		t.err = err
		t.mu.Unlock()
	}()
	return t
}

// join consumes a task handle produced by a background step.
func (e *Engine) join(ctx context.Context, args map[string]any) (any, error) {
	raw, ok := args["task"]
	if !ok {
		return nil, fmt.Errorf("join requires a task argument referencing a background step's result")
	}
	t, ok := raw.(*Task)
	if !ok {
		return nil, fmt.Errorf("join: task argument is %T, not a background task handle", raw)
	}
	return t.Wait(ctx)
}
