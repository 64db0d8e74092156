package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aerovista/skyconform/pkg/clients"
	"github.com/aerovista/skyconform/pkg/engine"
	"github.com/aerovista/skyconform/pkg/resolve"
	"github.com/aerovista/skyconform/pkg/result"
	"github.com/aerovista/skyconform/pkg/schema"
)

// HandleValidate implements the skyconform/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	sc, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", sc.Name, len(sc.Steps))
	if warnings := formatWarnings(errs); warnings != "" {
		msg += "\n" + warnings
	}
	return textResult(msg), nil
}

// HandleSchema implements the skyconform/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleCapabilities implements the skyconform/capabilities MCP tool.
func HandleCapabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caps := clients.NewCapabilityRegistry()
	data, err := json.MarshalIndent(caps.Describe(), "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleRun implements the skyconform/run MCP tool. Without execute=true it
// dry-runs: wiring is verified and the step flow is walked, but every step
// is recorded as skipped instead of invoking its capability.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	execute, _ := args["execute"].(bool)

	sc, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	caps := clients.NewCapabilityRegistry()
	deps := resolve.NewRegistry()
	clients.Wire(deps, log)

	cfg := engine.Config{Log: log}
	if !execute {
		cfg.Gate = func(stepID, capabilityName string) bool { return false }
	}

	res := engine.New(sc, caps, deps, cfg).Run(ctx)

	response := map[string]any{
		"run_id":   res.RunID,
		"scenario": res.Scenario,
		"status":   res.Status,
		"duration": res.Duration.String(),
		"summary":  res.Summarize(),
		"steps":    res.Steps,
	}
	if !execute {
		response["mode"] = "dry-run"
	}
	if res.Error != "" {
		response["error"] = res.Error
	}
	data, _ := json.MarshalIndent(response, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: res.Status == result.StatusFail,
	}, nil
}

func formatErrors(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity != "warning" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s (at %s)", e.Phase, e.Message, e.Path))
		}
	}
	return "validation failed:\n" + strings.Join(msgs, "\n")
}

func formatWarnings(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "warning" {
			msgs = append(msgs, fmt.Sprintf("⚠ [%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "\n")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
		IsError: true,
	}
}
