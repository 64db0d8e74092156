package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/aerovista/skyconform/pkg/result"
)

var statusStyles = map[result.Status]lipgloss.Style{
	result.StatusPass:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	result.StatusFail:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	result.StatusSkip:    lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	result.StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
}

// StyledStatus renders a status with its terminal color.
func StyledStatus(s result.Status) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

// Markdown builds the run summary as a markdown document.
func Markdown(res *result.ScenarioResult) string {
	var b strings.Builder
	sum := res.Summarize()

	fmt.Fprintf(&b, "# %s — %s\n\n", res.Scenario, res.Status)
	fmt.Fprintf(&b, "Run `%s` · %d steps · %d passed, %d failed, %d skipped · %s\n\n",
		res.RunID, sum.Total, sum.Passed, sum.Failed, sum.Skipped, res.Duration.Round(time.Millisecond))
	if res.Error != "" {
		fmt.Fprintf(&b, "> %s\n\n", res.Error)
	}

	if len(res.Steps) > 0 {
		b.WriteString("| Step | Capability | Status | Duration | Detail |\n")
		b.WriteString("|------|------------|--------|----------|--------|\n")
		for _, sr := range res.Steps {
			detail := sr.Error
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s |\n",
				sr.ID, sr.Name, sr.Status, sr.Duration.Round(time.Millisecond), escapeCell(detail))
		}
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// Render converts the run summary markdown to styled terminal output.
// Falls back to the raw markdown if glamour is unavailable.
func Render(res *result.ScenarioResult) string {
	md := Markdown(res)
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(0),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
