// Package diagram renders visual flow diagrams from parsed scenarios.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/aerovista/skyconform/pkg/expr"
	"github.com/aerovista/skyconform/pkg/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a parsed scenario.
func Generate(sc *schema.Scenario, format Format) (string, error) {
	if sc == nil {
		return "", fmt.Errorf("nil scenario")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(sc), nil
	case FormatASCII:
		return generateASCII(sc), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- flattening ---

type diagramStep struct {
	id         string
	capability string
	condition  string
	loop       string
	background bool
	onFailure  bool
	members    []diagramStep
}

func flatten(sc *schema.Scenario) []diagramStep {
	steps := make([]diagramStep, 0, len(sc.Steps))
	for _, st := range sc.Steps {
		ds := toDiagramStep(st)
		if g, ok := sc.Groups[st.Step]; ok {
			for _, m := range g.Steps {
				ds.members = append(ds.members, toDiagramStep(m))
			}
		}
		steps = append(steps, ds)
	}
	return steps
}

func toDiagramStep(st schema.Step) diagramStep {
	return diagramStep{
		id:         st.ID,
		capability: st.Step,
		condition:  st.If,
		loop:       loopLabel(st.Loop),
		background: st.Background,
		onFailure:  st.If != "" && expr.UsesFailureBranch(st.If),
	}
}

func loopLabel(l *schema.Loop) string {
	if l == nil {
		return ""
	}
	switch {
	case l.Count != 0:
		return fmt.Sprintf("x%d", l.Count)
	case l.While != "":
		return "while " + truncate(l.While, 30)
	case l.Items != nil:
		if s, ok := l.Items.(string); ok {
			return "over " + truncate(s, 30)
		}
		return "over items"
	}
	return ""
}

// --- Mermaid flowchart ---

func generateMermaid(sc *schema.Scenario) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	steps := flatten(sc)
	if len(steps) == 0 {
		return b.String()
	}

	b.WriteString("    START([Start]) --> " + entryID(steps[0]) + "\n")

	for i, s := range steps {
		if len(s.members) > 0 {
			writeMermaidGroup(&b, s)
		} else {
			b.WriteString("    " + nodeDefinition(s) + "\n")
		}

		if i < len(steps)-1 {
			next := steps[i+1]
			edge := fmt.Sprintf("    %s --> %s\n", exitID(s), entryID(next))
			if next.condition != "" {
				edge = fmt.Sprintf("    %s -->|%q| %s\n",
					exitID(s), truncate(next.condition, 30), entryID(next))
			}
			b.WriteString(edge)
		}
	}

	b.WriteString("    " + exitID(steps[len(steps)-1]) + " --> DONE([Done])\n")

	for _, s := range steps {
		nodes := []diagramStep{s}
		for _, m := range s.members {
			nodes = append(nodes, qualify(s.id, m))
		}
		for _, n := range nodes {
			switch {
			case n.background:
				b.WriteString(fmt.Sprintf("    style %s fill:#1a3a4a,stroke:#0af\n", safeID(n.id)))
			case n.onFailure:
				b.WriteString(fmt.Sprintf("    style %s fill:#4a2a1a,stroke:#fa0\n", safeID(n.id)))
			}
		}
	}

	return b.String()
}

func writeMermaidGroup(b *strings.Builder, s diagramStep) {
	fmt.Fprintf(b, "    subgraph %s[%q]\n", safeID(s.id), groupTitle(s))
	for j, m := range s.members {
		b.WriteString("        " + nodeDefinition(qualify(s.id, m)) + "\n")
		if j < len(s.members)-1 {
			fmt.Fprintf(b, "        %s --> %s\n",
				safeID(s.id+"."+m.id), safeID(s.id+"."+s.members[j+1].id))
		}
	}
	b.WriteString("    end\n")
}

func qualify(groupID string, m diagramStep) diagramStep {
	m.id = groupID + "." + m.id
	return m
}

func groupTitle(s diagramStep) string {
	title := s.id + ": " + s.capability
	if s.loop != "" {
		title += " (" + s.loop + ")"
	}
	return title
}

// entryID is the node an incoming edge targets; for groups that is the
// first member, since edges into a subgraph render poorly.
func entryID(s diagramStep) string {
	if len(s.members) > 0 {
		return safeID(s.id + "." + s.members[0].id)
	}
	return safeID(s.id)
}

func exitID(s diagramStep) string {
	if len(s.members) > 0 {
		return safeID(s.id + "." + s.members[len(s.members)-1].id)
	}
	return safeID(s.id)
}

func nodeDefinition(s diagramStep) string {
	id := safeID(s.id)
	label := escMermaid(s.id) + "<br/>" + escMermaid(s.capability)
	if s.loop != "" {
		label += "<br/>" + escMermaid(s.loop)
	}
	if s.background {
		return fmt.Sprintf(`%s[["%s"]]`, id, label)
	}
	if s.condition != "" {
		return fmt.Sprintf(`%s{{"%s"}}`, id, label)
	}
	return fmt.Sprintf(`%s["%s"]`, id, label)
}

// --- ASCII ---

func generateASCII(sc *schema.Scenario) string {
	var b strings.Builder

	name := sc.Name
	if name == "" {
		name = "Scenario"
	}

	steps := flatten(sc)
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	// Uniform box width so every box and connector aligns.
	const indent = 4
	boxWidth := computeUniformBoxWidth(steps, name)
	connCol := indent + 1 + boxWidth/2
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	headerText := centerPad(name, boxWidth)
	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + headerText + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, s := range steps {
		last := i == len(steps)-1
		writeASCIIStep(&b, s, indent, boxWidth, last)
		if !last {
			b.WriteString(connPad + "│\n")
		}
	}

	return b.String()
}

func asciiLines(s diagramStep) []string {
	lines := []string{" " + stepMarker(s) + " " + s.id + "  (" + s.capability + ") "}
	if s.condition != "" {
		lines = append(lines, "   if "+truncate(s.condition, 40)+" ")
	}
	if s.loop != "" {
		lines = append(lines, "   loop "+s.loop+" ")
	}
	for _, m := range s.members {
		lines = append(lines, "     • "+m.id+"  ("+m.capability+") ")
	}
	return lines
}

func computeUniformBoxWidth(steps []diagramStep, name string) int {
	w := runewidth.StringWidth(name) + 4
	if w < 24 {
		w = 24
	}
	for _, s := range steps {
		for _, l := range asciiLines(s) {
			if lw := runewidth.StringWidth(l); lw > w {
				w = lw
			}
		}
	}
	return w
}

func writeASCIIStep(b *strings.Builder, s diagramStep, indent, boxWidth int, last bool) {
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	b.WriteString(pad + "┌" + strings.Repeat("─", mid) + "┴" + strings.Repeat("─", boxWidth-mid-1) + "┐\n")
	for _, l := range asciiLines(s) {
		lw := runewidth.StringWidth(l)
		b.WriteString(pad + "│" + l + strings.Repeat(" ", boxWidth-lw) + "│\n")
	}
	bottom := "└" + strings.Repeat("─", boxWidth) + "┘"
	if !last {
		bottom = "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘"
	}
	b.WriteString(pad + bottom + "\n")
}

func stepMarker(s diagramStep) string {
	switch {
	case s.background:
		return "≡"
	case len(s.members) > 0:
		return "▣"
	case s.condition != "":
		return "?"
	default:
		return "○"
	}
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

// --- string helpers ---

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_", "[", "_", "]", "_")
	return r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
