package clients

import (
	"context"
	"log/slog"
	"time"

	"github.com/aerovista/skyconform/pkg/capability"
)

// Control hosts scenario-level control operations that touch no external
// system: timed waits, recorded literals, and operator-visible log lines.
type Control struct {
	Log *slog.Logger
}

// NewControl builds the control operations client.
func NewControl(log *slog.Logger) (*Control, error) {
	return &Control{Log: log}, nil
}

type waitParams struct {
	Seconds float64 `json:"seconds"`
}

type setParams struct {
	Value any `json:"value"`
}

type logParams struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// registerControl registers the control capabilities.
func registerControl(caps *capability.Registry) {
	capability.MustRegister(caps, "control.wait", "Pause the scenario for a duration",
		func(ctx context.Context, c *Control, p waitParams) (any, error) {
			d := time.Duration(p.Seconds * float64(time.Second))
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return map[string]any{"waited_s": p.Seconds}, nil
			case <-ctx.Done():
				return nil, capability.Runtime("control.wait", ctx.Err())
			}
		})
	capability.MustRegister(caps, "control.set", "Record a literal value as this step's result",
		func(ctx context.Context, c *Control, p setParams) (any, error) {
			return p.Value, nil
		})
	capability.MustRegister(caps, "control.log", "Emit an operator-visible log line",
		func(ctx context.Context, c *Control, p logParams) (any, error) {
			switch p.Level {
			case "warn":
				c.Log.Warn(p.Message)
			case "debug":
				c.Log.Debug(p.Message)
			default:
				c.Log.Info(p.Message)
			}
			return map[string]any{"message": p.Message}, nil
		})
}
