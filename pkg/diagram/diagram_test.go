package diagram

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"github.com/aerovista/skyconform/pkg/schema"
)

func TestGenerateMermaid_LinearFlow(t *testing.T) {
	sc := &schema.Scenario{
		Name: "linear-test",
		Steps: []schema.Step{
			{ID: "upload", Step: "utm.upload_plan"},
			{ID: "activate", Step: "utm.activate_plan"},
		},
	}

	out, err := Generate(sc, FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "flowchart TD") {
		t.Error("missing flowchart header")
	}
	if !strings.Contains(out, "START([Start]) --> upload") {
		t.Errorf("missing start edge, got:\n%s", out)
	}
	if !strings.Contains(out, "upload --> activate") {
		t.Errorf("missing sequential edge, got:\n%s", out)
	}
	if !strings.Contains(out, "activate --> DONE") {
		t.Errorf("missing done edge, got:\n%s", out)
	}
}

func TestGenerateMermaid_ConditionEdgeAndShapes(t *testing.T) {
	sc := &schema.Scenario{
		Name: "shapes",
		Steps: []schema.Step{
			{ID: "mon", Step: "telemetry.await_message", Background: true},
			{ID: "cleanup", Step: "utm.close_plan", If: "failure()"},
		},
	}

	out, err := Generate(sc, FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `mon[["`) {
		t.Errorf("background step should use subroutine shape, got:\n%s", out)
	}
	if !strings.Contains(out, `mon -->|"failure()"| cleanup`) {
		t.Errorf("missing conditional edge label, got:\n%s", out)
	}
	if !strings.Contains(out, "style cleanup") {
		t.Errorf("failure-branch step should carry a style, got:\n%s", out)
	}
}

func TestGenerateMermaid_GroupSubgraph(t *testing.T) {
	sc := &schema.Scenario{
		Name: "grouped",
		Groups: map[string]schema.Group{
			"flight": {Steps: []schema.Step{
				{ID: "upload", Step: "utm.upload_plan"},
				{ID: "activate", Step: "utm.activate_plan"},
			}},
		},
		Steps: []schema.Step{
			{ID: "fly", Step: "flight"},
			{ID: "check", Step: "assert.that"},
		},
	}

	out, err := Generate(sc, FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "subgraph fly") {
		t.Errorf("missing group subgraph, got:\n%s", out)
	}
	if !strings.Contains(out, "fly_upload --> fly_activate") {
		t.Errorf("missing member edge, got:\n%s", out)
	}
	if !strings.Contains(out, "fly_activate --> check") {
		t.Errorf("group exit should connect from last member, got:\n%s", out)
	}
}

func TestGenerateMermaid_LoopLabel(t *testing.T) {
	sc := &schema.Scenario{
		Name: "loops",
		Steps: []schema.Step{
			{ID: "probe", Step: "utm.get_state", Loop: &schema.Loop{Count: 3}},
		},
	}

	out, err := Generate(sc, FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "x3") {
		t.Errorf("missing loop annotation, got:\n%s", out)
	}
}

func TestGenerateASCII_AlignedBoxes(t *testing.T) {
	sc := &schema.Scenario{
		Name: "ascii-test",
		Groups: map[string]schema.Group{
			"flight": {Steps: []schema.Step{
				{ID: "upload", Step: "utm.upload_plan"},
			}},
		},
		Steps: []schema.Step{
			{ID: "fly", Step: "flight"},
			{ID: "watch", Step: "telemetry.await_message", If: "${{ steps.fly.status }} == PASS"},
		},
	}

	out, err := Generate(sc, FormatASCII)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "ascii-test") {
		t.Error("missing scenario name header")
	}
	if !strings.Contains(out, "upload") {
		t.Error("missing group member line")
	}
	if !strings.Contains(out, "if ${{ steps.fly.status }}") {
		t.Errorf("missing condition line, got:\n%s", out)
	}

	// Every box content line must share the same display width.
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	width := -1
	for _, l := range lines {
		if strings.Count(l, "│") < 2 && !strings.Contains(l, "║") {
			continue
		}
		w := runewidth.StringWidth(l)
		if width == -1 {
			width = w
		} else if w != width {
			t.Fatalf("misaligned box line (%d vs %d): %q\ndiagram:\n%s", w, width, l, out)
		}
	}
}

func TestGenerateASCII_Empty(t *testing.T) {
	out, err := Generate(&schema.Scenario{Name: "bare"}, FormatASCII)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "bare (empty)") {
		t.Errorf("unexpected empty rendering: %q", out)
	}
}

func TestGenerate_Errors(t *testing.T) {
	if _, err := Generate(nil, FormatMermaid); err == nil {
		t.Error("expected error for nil scenario")
	}
	if _, err := Generate(&schema.Scenario{}, Format("dot")); err == nil {
		t.Error("expected error for unsupported format")
	}
}
