package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aerovista/skyconform/pkg/result"
)

const sampleScenario = `
apiVersion: scenario/v1
name: mcp-sample
steps:
  - step: control.log
    id: hello
    arguments:
      message: checking in
  - step: control.set
    id: ceiling
    arguments:
      value: 120
`

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHandleValidate_MissingPath(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{}

	res, err := HandleValidate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected error for missing path")
	}
}

func TestHandleValidate_ValidScenario(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"path": writeScenario(t, sampleScenario)}

	res, err := HandleValidate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("expected success: %+v", res.Content)
	}
}

func TestHandleSchema(t *testing.T) {
	res, err := HandleSchema(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || len(res.Content) == 0 {
		t.Error("expected schema content")
	}
}

func TestHandleCapabilities(t *testing.T) {
	res, err := HandleCapabilities(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatal("expected success")
	}
	text := res.Content[0].(mcp.TextContent).Text
	for _, name := range []string{"utm.upload_plan", "telemetry.stream", "assert.that"} {
		if !strings.Contains(text, name) {
			t.Errorf("catalog missing %s", name)
		}
	}
}

func TestHandleRun_DryRunSkipsEveryStep(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"path": writeScenario(t, sampleScenario)}

	res, err := HandleRun(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("dry run should pass: %+v", res.Content)
	}
	text := res.Content[0].(mcp.TextContent).Text
	if !strings.Contains(text, `"mode": "dry-run"`) {
		t.Errorf("response missing dry-run marker:\n%s", text)
	}
	if !strings.Contains(text, string(result.StatusSkip)) {
		t.Errorf("dry run should record skipped steps:\n%s", text)
	}
}

func TestHandleRun_ExecuteControlScenario(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{
		"path":    writeScenario(t, sampleScenario),
		"execute": true,
	}

	res, err := HandleRun(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("control-only scenario should pass: %+v", res.Content)
	}
	text := res.Content[0].(mcp.TextContent).Text
	if !strings.Contains(text, `"status": "PASS"`) {
		t.Errorf("response missing PASS status:\n%s", text)
	}
}
