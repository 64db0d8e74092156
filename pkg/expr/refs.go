// Package expr implements the reference and condition language used by
// scenario documents: ${{ ... }} references into prior step results and loop
// variables, and a closed boolean grammar for step gating conditions.
//
// Resolution is total: a dangling reference logs a warning and yields nil, a
// malformed condition logs a warning and evaluates to false. Neither ever
// returns an error into the engine's step loop.
package expr

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/aerovista/skyconform/pkg/result"
)

// LoopContext carries the counters of the innermost active loop.
type LoopContext struct {
	Index int
	Item  any
}

// Env is the read-only evaluation environment for one step: the session's
// accumulated results plus the active loop and group scope. The engine
// builds a fresh Env per step; the evaluator never mutates it.
type Env struct {
	Results *result.Store
	Loop    *LoopContext // nil outside a loop
	GroupID string       // id prefix of the executing group instance, "" at top level

	// LastCompleted is the status of the most recently completed,
	// non-skipped step in scope. Empty when no such step has run, in which
	// case success() holds.
	LastCompleted result.Status

	Log *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

var refPattern = regexp.MustCompile(`\$\{\{\s*(.*?)\s*\}\}`)

// ResolveValue rewrites a raw argument value, substituting every ${{ ... }}
// expression it contains. A string that is exactly one expression resolves
// to the referenced value with its original type; a string containing
// embedded expressions resolves to a string with each expression rendered.
// Maps and slices are resolved element-wise.
func ResolveValue(v any, env *Env) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, env)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ResolveValue(item, env)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ResolveValue(item, env)
		}
		return out
	default:
		return v
	}
}

// ResolveArgs resolves every value in a step's argument map.
func ResolveArgs(args map[string]any, env *Env) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = ResolveValue(v, env)
	}
	return out
}

func resolveString(s string, env *Env) any {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	// Whole-string expression keeps the referenced value's type.
	if strings.TrimSpace(s) == m[0] {
		return resolvePath(strings.TrimSpace(m[1]), env)
	}
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := refPattern.FindStringSubmatch(match)[1]
		v := resolvePath(strings.TrimSpace(inner), env)
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// resolvePath resolves one reference path: steps.<id>.status|result,
// loop.index, loop.item, group.<id>.status|result. Unknown ids and fields
// log a warning and yield nil.
func resolvePath(path string, env *Env) any {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "loop":
		if env.Loop == nil {
			env.logger().Warn("loop reference outside an active loop", "ref", path)
			return nil
		}
		if len(parts) != 2 {
			env.logger().Warn("malformed loop reference", "ref", path)
			return nil
		}
		switch parts[1] {
		case "index":
			return env.Loop.Index
		case "item":
			return env.Loop.Item
		}
		env.logger().Warn("unknown loop field", "ref", path)
		return nil

	case "steps", "group":
		if len(parts) < 3 {
			env.logger().Warn("malformed step reference", "ref", path)
			return nil
		}
		id := strings.Join(parts[1:len(parts)-1], ".")
		field := parts[len(parts)-1]
		tail := ""
		// A trailing segment that is neither status nor result addresses
		// into the result value: steps.a.result.<key>.
		if field != "status" && field != "result" {
			for i := len(parts) - 2; i >= 1; i-- {
				if parts[i] == "result" {
					id = strings.Join(parts[1:i], ".")
					field = "result"
					tail = strings.Join(parts[i+1:], ".")
					break
				}
			}
			if field != "result" {
				env.logger().Warn("unknown step field", "ref", path, "field", field)
				return nil
			}
		}
		if parts[0] == "group" && env.GroupID != "" {
			id = env.GroupID + "." + id
		}
		return resolveStepField(id, field, tail, env)
	}
	env.logger().Warn("unknown reference root", "ref", path)
	return nil
}

func resolveStepField(id, field, tail string, env *Env) any {
	r, ok := lookupStep(id, env)
	if !ok {
		env.logger().Warn("reference to unknown step", "step", id)
		return nil
	}
	switch field {
	case "status":
		return string(r.Status)
	case "result":
		if tail == "" {
			return r.Value
		}
		return dig(r.Value, strings.Split(tail, "."), id, env)
	}
	return nil
}

// lookupStep finds a step result by id, trying the id as written, then with
// an index suffix normalized (steps.a[2].result arrives as id "a[2]").
func lookupStep(id string, env *Env) (result.StepResult, bool) {
	if r, ok := env.Results.Get(id); ok {
		return r, true
	}
	// steps.a inside a group scope may refer to a sibling member.
	if env.GroupID != "" {
		if r, ok := env.Results.Get(env.GroupID + "." + id); ok {
			return r, true
		}
	}
	return result.StepResult{}, false
}

// dig walks a dotted path into a result value (maps keyed by string, slices
// by numeric segment).
func dig(v any, path []string, stepID string, env *Env) any {
	cur := v
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				env.logger().Warn("reference path not found in result", "step", stepID, "key", seg)
				return nil
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				env.logger().Warn("reference index invalid", "step", stepID, "index", seg)
				return nil
			}
			cur = c[i]
		default:
			env.logger().Warn("reference path into non-container result", "step", stepID, "key", seg)
			return nil
		}
	}
	return cur
}
