package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/expr-lang/expr"

	"github.com/aerovista/skyconform/pkg/capability"
)

// Asserter evaluates scenario assertions over resolved step data.
type Asserter struct {
	Log *slog.Logger
}

// NewAsserter builds the assertion client.
func NewAsserter(log *slog.Logger) (*Asserter, error) {
	return &Asserter{Log: log}, nil
}

// That evaluates a boolean expression against the named values. A false
// result or an evaluation error is an assertion failure.
func (a *Asserter) That(code string, with map[string]any) error {
	prog, err := expr.Compile(code, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return fmt.Errorf("compile %q: %w", code, err)
	}
	if with == nil {
		with = map[string]any{}
	}
	out, err := expr.Run(prog, with)
	if err != nil {
		return fmt.Errorf("evaluate %q: %w", code, err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("assertion %q not satisfied (with %s)", code, compactJSON(with))
	}
	return nil
}

// Equals compares two values after JSON normalization, so an int from the
// scenario document and a float64 from a decoded response compare equal.
func (a *Asserter) Equals(got, want any) error {
	gn, err := normalize(got)
	if err != nil {
		return fmt.Errorf("got value: %w", err)
	}
	wn, err := normalize(want)
	if err != nil {
		return fmt.Errorf("want value: %w", err)
	}
	if !reflect.DeepEqual(gn, wn) {
		return fmt.Errorf("values differ: got %s, want %s", compactJSON(got), compactJSON(want))
	}
	return nil
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return truncate(string(data), 300)
}

type assertThatParams struct {
	Expr string         `json:"expr"`
	With map[string]any `json:"with,omitempty"`
}

type assertEqualsParams struct {
	Got  any `json:"got"`
	Want any `json:"want"`
}

// registerAssert registers the assertion capabilities.
func registerAssert(caps *capability.Registry) {
	capability.MustRegister(caps, "assert.that", "Evaluate a boolean expression against named values",
		func(ctx context.Context, c *Asserter, p assertThatParams) (any, error) {
			if err := c.That(p.Expr, p.With); err != nil {
				return nil, capability.Runtime("assert.that", err)
			}
			return map[string]any{"expr": p.Expr, "satisfied": true}, nil
		})
	capability.MustRegister(caps, "assert.equals", "Compare two resolved values",
		func(ctx context.Context, c *Asserter, p assertEqualsParams) (any, error) {
			if err := c.Equals(p.Got, p.Want); err != nil {
				return nil, capability.Runtime("assert.equals", err)
			}
			return map[string]any{"equal": true}, nil
		})
}
