package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/aretw0/transmute/pkg/planner"
)

// NewRenderer returns a function that renders markdown using glamour.
// It auto-detects light/dark terminal backgrounds.
func NewRenderer() func(string) (string, error) {
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
	)

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// ExplainPlan renders a plan as markdown for terminal display.
func ExplainPlan(plan *planner.Plan) string {
	var sb strings.Builder

	sb.WriteString("# Conversion plan\n\n")
	if len(plan.Steps) == 0 {
		sb.WriteString("Source already satisfies the target; nothing to do.\n")
		return sb.String()
	}

	sb.WriteString("| # | Converter | Options |\n")
	sb.WriteString("|---|-----------|--------|\n")
	for i, step := range plan.Steps {
		opts := "-"
		if len(step.Options) > 0 {
			opts = step.Options.String()
		}
		fmt.Fprintf(&sb, "| %d | `%s` | %s |\n", i+1, step.ConverterID, opts)
	}

	fmt.Fprintf(&sb, "\nCost: **%.2f** · Final state: `%s`\n", plan.Cost, plan.Final)
	return sb.String()
}
