// Package engine implements the scenario execution engine: it expands
// groups, drives loops, applies gating conditions, invokes capabilities
// through the dependency resolver, records results, and propagates failure
// as a skip cascade.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aerovista/skyconform/pkg/capability"
	"github.com/aerovista/skyconform/pkg/expr"
	"github.com/aerovista/skyconform/pkg/resolve"
	"github.com/aerovista/skyconform/pkg/result"
	"github.com/aerovista/skyconform/pkg/schema"
)

// MaxWhileIterations is the global ceiling on while-loop iterations. It
// bounds even a buggy always-true condition, guaranteeing termination.
const MaxWhileIterations = 100

// Skip reasons recorded on SKIP step results.
const (
	SkipConditionNotMet = "condition not met"
	SkipPreviousFailure = "previous step failure"
	SkipOperator        = "operator skipped"
	SkipNotCompleted    = "run ended before completion"
)

// JoinCapability is the engine-builtin step name that awaits a background
// task handle and surfaces the joined capability's own outcome.
const JoinCapability = "join"

// GenerateRunID creates a run ID in format YYYYMMDDTHHmmss-xxxxxxxx.
func GenerateRunID() string {
	ts := time.Now().Format("20060102T150405")
	return fmt.Sprintf("%s-%s", ts, uuid.NewString()[:8])
}

// Gate lets an interactive front end intercept a step before it runs.
// Returning false records the step as SKIP (operator skipped).
type Gate func(stepID, capabilityName string) bool

// Config carries the optional collaborators of one engine run.
type Config struct {
	RunID    string // generated when empty
	Log      *slog.Logger
	Observer func(result.StepResult) // called on every status change, incl. RUNNING
	Gate     Gate
}

// Engine executes one scenario run. Create a fresh Engine per run.
type Engine struct {
	scenario *schema.Scenario
	caps     *capability.Registry
	deps     *resolve.Registry
	cfg      Config
	log      *slog.Logger

	runID string
	store *result.Store
	sess  *resolve.Session
	tasks []*Task // background tasks dispatched this run
}

// New creates an engine for executing a scenario against the given
// capability registry and dependency wiring.
func New(sc *schema.Scenario, caps *capability.Registry, deps *resolve.Registry, cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = GenerateRunID()
	}
	return &Engine{
		scenario: sc,
		caps:     caps,
		deps:     deps,
		cfg:      cfg,
		log:      log.With("run_id", runID, "scenario", sc.Name),
		runID:    runID,
		store:    result.NewStore(),
	}
}

// RunID returns this run's identifier.
func (e *Engine) RunID() string { return e.runID }

// Store exposes the live result store for concurrent observers.
func (e *Engine) Store() *result.Store { return e.store }

// scope is the cascade/condition context of one step list: the scenario
// itself, one group instance, or one loop iteration.
type scope struct {
	groupID string // store-id prefix of the executing group instance
	loop    *expr.LoopContext
	failed  bool
	// lastCompleted is the most recent terminal non-skip status in scope;
	// empty means no such step ran yet (success() holds).
	lastCompleted result.Status
}

func (s *scope) child() *scope {
	c := *s
	return &c
}

// merge folds a finished child scope back into its parent: a failure inside
// a group or loop is a failure of the enclosing step list.
func (s *scope) merge(c *scope) {
	s.failed = s.failed || c.failed
	if c.lastCompleted != "" {
		s.lastCompleted = c.lastCompleted
	}
}

func (s *scope) env(e *Engine) *expr.Env {
	return &expr.Env{
		Results:       e.store,
		Loop:          s.loop,
		GroupID:       s.groupID,
		LastCompleted: s.lastCompleted,
		Log:           e.log,
	}
}

// Run executes the scenario and always returns a complete ScenarioResult:
// every dispatched step is finalized to a terminal status, and dependency
// teardown runs regardless of step outcomes. Only wiring errors produce a
// result with zero steps.
func (e *Engine) Run(ctx context.Context) *result.ScenarioResult {
	started := time.Now()
	res := &result.ScenarioResult{
		Scenario:  e.scenario.Name,
		RunID:     e.runID,
		StartedAt: started,
	}

	// Wiring must be sound before any step executes.
	if err := e.preflight(); err != nil {
		e.log.Error("wiring check failed, aborting run", "error", err)
		res.Status = result.StatusFail
		res.Error = err.Error()
		res.Duration = time.Since(started)
		return res
	}

	e.sess = e.deps.NewSession(e.log)

	root := &scope{}
	e.runSteps(ctx, e.scenario.Steps, root)

	// Best-effort cancellation of unjoined background tasks, then make
	// sure no RUNNING placeholder survives the run.
	for _, t := range e.tasks {
		t.cancel()
	}
	e.finalizeRunning()

	// Teardown always runs, cascade or not.
	if err := e.sess.Close(); err != nil {
		e.log.Warn("dependency teardown reported failures", "error", err)
		res.Error = fmt.Sprintf("teardown: %v", err)
	}

	res.Steps = e.store.Snapshot()
	res.Duration = time.Since(started)
	res.Status = result.StatusPass
	for _, sr := range res.Steps {
		if sr.Status == result.StatusFail {
			res.Status = result.StatusFail
			break
		}
	}
	return res
}

// preflight verifies every referenced capability exists and that its owning
// client (with transitive dependencies) is constructible.
func (e *Engine) preflight() error {
	check := func(steps []schema.Step) error {
		for _, st := range steps {
			if _, isGroup := e.scenario.Groups[st.Step]; isGroup {
				continue
			}
			if st.Step == JoinCapability {
				continue
			}
			d, ok := e.caps.Lookup(st.Step)
			if !ok {
				return fmt.Errorf("step %q: unknown capability %q", st.ID, st.Step)
			}
			if err := e.deps.Check(d.ClientType()); err != nil {
				return fmt.Errorf("capability %q: %w", st.Step, err)
			}
		}
		return nil
	}
	if err := check(e.scenario.Steps); err != nil {
		return err
	}
	for name, g := range e.scenario.Groups {
		if err := check(g.Steps); err != nil {
			return fmt.Errorf("group %q: %w", name, err)
		}
	}
	return nil
}

// runSteps drives one step list in document order under sc.
func (e *Engine) runSteps(ctx context.Context, steps []schema.Step, sc *scope) {
	for i := range steps {
		e.runStep(ctx, &steps[i], sc)
	}
}

// runStep dispatches one document step: group expansion, loop driving, or a
// single capability instance.
func (e *Engine) runStep(ctx context.Context, st *schema.Step, sc *scope) {
	group, isGroup := e.scenario.Groups[st.Step]

	if st.Loop != nil {
		e.runLoop(ctx, st, sc, isGroup, group)
		return
	}
	if isGroup {
		e.runGroup(ctx, st, sc, group, sc.groupedID(st.ID), sc.loop)
		return
	}
	e.runInstance(ctx, st, sc, sc.groupedID(st.ID))
}

// groupedID prefixes a step id with the enclosing group instance id.
func (s *scope) groupedID(id string) string {
	if s.groupID == "" {
		return id
	}
	return s.groupID + "." + id
}

// runGroup inlines a group's members under the invocation id prefix.
func (e *Engine) runGroup(ctx context.Context, st *schema.Step, sc *scope, g schema.Group, instanceID string, loop *expr.LoopContext) {
	child := sc.child()
	child.groupID = instanceID
	child.loop = loop
	e.runSteps(ctx, g.Steps, child)
	sc.merge(child)
}

// runLoop resolves the loop before member expansion so loop.index/loop.item
// are in scope for every member, then drives iterations in order. A failing
// iteration stops the loop early.
func (e *Engine) runLoop(ctx context.Context, st *schema.Step, sc *scope, isGroup bool, g schema.Group) {
	iterate := func(index int, item any) bool {
		iterID := result.IterationID(sc.groupedID(st.ID), index)
		child := sc.child()
		child.loop = &expr.LoopContext{Index: index, Item: item}
		if isGroup {
			e.runGroup(ctx, st, child, g, iterID, child.loop)
		} else {
			e.runInstance(ctx, st, child, iterID)
		}
		sc.merge(child)
		return !child.failed
	}

	switch {
	case st.Loop.Count > 0:
		for i := 0; i < st.Loop.Count; i++ {
			if !iterate(i, nil) {
				return
			}
		}

	case st.Loop.Items != nil:
		items := e.resolveItems(st, sc)
		for i, item := range items {
			if !iterate(i, item) {
				return
			}
		}

	case st.Loop.While != "":
		for i := 0; i < MaxWhileIterations; i++ {
			checkScope := sc.child()
			checkScope.loop = &expr.LoopContext{Index: i}
			if !expr.EvalCondition(st.Loop.While, checkScope.env(e)) {
				return
			}
			if !iterate(i, nil) {
				return
			}
		}
		e.log.Warn("while loop hit the iteration ceiling", "step", st.ID, "ceiling", MaxWhileIterations)
	}
}

// resolveItems resolves a loop's items to a list. A reference resolving to
// nil yields zero iterations; a non-list value iterates once over itself.
func (e *Engine) resolveItems(st *schema.Step, sc *scope) []any {
	resolved := expr.ResolveValue(st.Loop.Items, sc.env(e))
	switch items := resolved.(type) {
	case nil:
		e.log.Warn("loop items resolved to nothing", "step", st.ID)
		return nil
	case []any:
		return items
	default:
		e.log.Warn("loop items did not resolve to a list, iterating once", "step", st.ID, "type", fmt.Sprintf("%T", resolved))
		return []any{resolved}
	}
}

// runInstance executes one step instance: cascade check, entry condition,
// argument resolution, capability dispatch, outcome classification.
func (e *Engine) runInstance(ctx context.Context, st *schema.Step, sc *scope, instanceID string) {
	env := sc.env(e)

	// Skip cascade: after a failure, remaining steps are skipped unless
	// their own condition opts in via failure() or always(), in which case
	// normal condition evaluation applies instead.
	if sc.failed && !expr.UsesFailureBranch(st.If) {
		e.record(result.StepResult{
			ID: instanceID, Name: st.Step, Status: result.StatusSkip,
			StartedAt: time.Now(), Error: SkipPreviousFailure,
		})
		return
	}

	if !expr.EvalCondition(st.If, env) {
		e.record(result.StepResult{
			ID: instanceID, Name: st.Step, Status: result.StatusSkip,
			StartedAt: time.Now(), Error: SkipConditionNotMet,
		})
		return
	}

	if e.cfg.Gate != nil && !e.cfg.Gate(instanceID, st.Step) {
		e.record(result.StepResult{
			ID: instanceID, Name: st.Step, Status: result.StatusSkip,
			StartedAt: time.Now(), Error: SkipOperator,
		})
		return
	}

	started := time.Now()
	e.record(result.StepResult{ID: instanceID, Name: st.Step, Status: result.StatusRunning, StartedAt: started})

	args := expr.ResolveArgs(st.Arguments, env)

	var (
		value any
		err   error
	)
	switch {
	case st.Step == JoinCapability:
		value, err = e.join(ctx, args)
	case st.Background:
		value = e.dispatchBackground(ctx, st, instanceID, args)
	default:
		value, err = e.invoke(ctx, st.Step, args)
	}

	r := result.StepResult{
		ID:        instanceID,
		Name:      st.Step,
		StartedAt: started,
		Duration:  time.Since(started),
		Value:     value,
	}
	if err != nil {
		// Capability errors are recovered into a FAIL result here; the raw
		// error never propagates out of step execution.
		r.Status = result.StatusFail
		r.Error = err.Error()
		sc.failed = true
		e.log.Warn("step failed", "step", instanceID, "capability", st.Step, "error", err)
	} else {
		r.Status = result.StatusPass
	}
	sc.lastCompleted = r.Status
	e.record(r)
}

// invoke resolves the owning client and dispatches the capability.
func (e *Engine) invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	d, ok := e.caps.Lookup(name)
	if !ok {
		// Preflight covers document steps; this guards dynamic callers.
		return nil, fmt.Errorf("unknown capability %q", name)
	}
	client, err := e.sess.Resolve(d.ClientType())
	if err != nil {
		return nil, fmt.Errorf("resolve client for %s: %w", name, err)
	}
	return d.Invoke(ctx, client, args)
}

// record stores a status change and forwards it to the observer.
func (e *Engine) record(r result.StepResult) {
	e.store.Put(r)
	if e.cfg.Observer != nil {
		e.cfg.Observer(r)
	}
}

// finalizeRunning sweeps any RUNNING placeholder left by an aborted run
// into a terminal SKIP. Under normal control flow every dispatch path
// records a terminal status itself.
func (e *Engine) finalizeRunning() {
	for _, id := range e.store.Running() {
		r, _ := e.store.Get(id)
		r.Status = result.StatusSkip
		r.Error = SkipNotCompleted
		r.Duration = time.Since(r.StartedAt)
		e.record(r)
	}
}
