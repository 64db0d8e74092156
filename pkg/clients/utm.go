// Package clients hosts the capability clients the conformance engine
// dispatches to: the UTM service under test, the telemetry broker, the
// flight simulator, assertions, and control operations. Each client is
// constructed through the dependency resolver and owns the capabilities
// registered against its type.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aerovista/skyconform/pkg/capability"
)

// Flight plan states reported by the UTM service.
const (
	PlanStateDraft     = "DRAFT"
	PlanStateAccepted  = "ACCEPTED"
	PlanStateActivated = "ACTIVATED"
	PlanStateClosed    = "CLOSED"
	PlanStateRejected  = "REJECTED"
)

// UTMClient is the HTTP client for the UTM service under test.
type UTMClient struct {
	BaseURL string
	HTTP    *http.Client
	Log     *slog.Logger
}

// NewUTMClient builds a client from the environment.
//
// Environment variables:
//   - UTM_BASE_URL → service base URL (default http://localhost:8080)
//   - UTM_TIMEOUT  → per-request timeout, Go duration (default 15s)
func NewUTMClient(log *slog.Logger) (*UTMClient, error) {
	base := firstOf(os.Getenv("UTM_BASE_URL"), "http://localhost:8080")
	timeout := 15 * time.Second
	if v := os.Getenv("UTM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("UTM_TIMEOUT %q: %w", v, err)
		}
		timeout = d
	}
	return &UTMClient{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Log:     log,
	}, nil
}

// firstOf returns the first non-empty string from the arguments.
func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PlanResponse is the service's representation of a flight plan.
type PlanResponse struct {
	ID      string         `json:"id"`
	State   string         `json:"state"`
	Plan    map[string]any `json:"plan,omitempty"`
	Message string         `json:"message,omitempty"`
}

func (c *UTMClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: service returned %d: %s", method, path, resp.StatusCode, truncate(string(data), 500))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: parse response: %w", method, path, err)
		}
	}
	return nil
}

// truncate shortens a string for error display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// UploadPlan submits a flight plan and returns the service's record of it.
func (c *UTMClient) UploadPlan(ctx context.Context, plan map[string]any) (*PlanResponse, error) {
	var out PlanResponse
	if err := c.do(ctx, http.MethodPost, "/plans", plan, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivatePlan transitions an accepted plan to ACTIVATED.
func (c *UTMClient) ActivatePlan(ctx context.Context, id string) (*PlanResponse, error) {
	var out PlanResponse
	if err := c.do(ctx, http.MethodPost, "/plans/"+id+"/activate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClosePlan transitions a plan to CLOSED.
func (c *UTMClient) ClosePlan(ctx context.Context, id string) (*PlanResponse, error) {
	var out PlanResponse
	if err := c.do(ctx, http.MethodPost, "/plans/"+id+"/close", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetState fetches the current plan record.
func (c *UTMClient) GetState(ctx context.Context, id string) (*PlanResponse, error) {
	var out PlanResponse
	if err := c.do(ctx, http.MethodGet, "/plans/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AwaitState polls until the plan reaches the target state or the deadline
// passes. A plan that reaches a different terminal state fails immediately.
func (c *UTMClient) AwaitState(ctx context.Context, id, target string, timeout, poll time.Duration) (*PlanResponse, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		plan, err := c.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		if plan.State == target {
			return plan, nil
		}
		if plan.State == PlanStateClosed || plan.State == PlanStateRejected {
			return nil, fmt.Errorf("plan %s reached terminal state %s while waiting for %s", id, plan.State, target)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("plan %s still %s after %s, wanted %s", id, plan.State, timeout, target)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type uploadPlanParams struct {
	Plan map[string]any `json:"plan"`
}

type planIDParams struct {
	ID string `json:"id"`
}

type awaitStateParams struct {
	ID             string  `json:"id"`
	State          string  `json:"state"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
	PollSeconds    float64 `json:"poll_seconds,omitempty"`
}

// registerUTM registers the UTM service capabilities.
func registerUTM(caps *capability.Registry) {
	capability.MustRegister(caps, "utm.upload_plan", "Submit a flight plan to the UTM service",
		func(ctx context.Context, c *UTMClient, p uploadPlanParams) (any, error) {
			plan, err := c.UploadPlan(ctx, p.Plan)
			if err != nil {
				return nil, capability.Runtime("utm.upload_plan", err)
			}
			return asMap(plan)
		})
	capability.MustRegister(caps, "utm.activate_plan", "Activate an accepted flight plan",
		func(ctx context.Context, c *UTMClient, p planIDParams) (any, error) {
			plan, err := c.ActivatePlan(ctx, p.ID)
			if err != nil {
				return nil, capability.Runtime("utm.activate_plan", err)
			}
			return asMap(plan)
		})
	capability.MustRegister(caps, "utm.close_plan", "Close a flight plan",
		func(ctx context.Context, c *UTMClient, p planIDParams) (any, error) {
			plan, err := c.ClosePlan(ctx, p.ID)
			if err != nil {
				return nil, capability.Runtime("utm.close_plan", err)
			}
			return asMap(plan)
		})
	capability.MustRegister(caps, "utm.get_state", "Fetch the current flight plan record",
		func(ctx context.Context, c *UTMClient, p planIDParams) (any, error) {
			plan, err := c.GetState(ctx, p.ID)
			if err != nil {
				return nil, capability.Runtime("utm.get_state", err)
			}
			return asMap(plan)
		})
	capability.MustRegister(caps, "utm.await_state", "Poll until a plan reaches the target state",
		func(ctx context.Context, c *UTMClient, p awaitStateParams) (any, error) {
			timeout := secondsOr(p.TimeoutSeconds, 30*time.Second)
			poll := secondsOr(p.PollSeconds, time.Second)
			plan, err := c.AwaitState(ctx, p.ID, p.State, timeout, poll)
			if err != nil {
				return nil, capability.Runtime("utm.await_state", err)
			}
			return asMap(plan)
		})
}

func secondsOr(s float64, fallback time.Duration) time.Duration {
	if s <= 0 {
		return fallback
	}
	return time.Duration(s * float64(time.Second))
}

// asMap round-trips a typed response through JSON so step results are plain
// maps that reference paths can address into.
func asMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
