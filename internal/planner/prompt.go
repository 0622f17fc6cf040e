package planner

import (
	"fmt"
	"strings"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/sandbox"
)

const instructions = `You are a data analyst for an insurance claims team. Translate the question below into analysis code over the dataset described.

Rules:
- Output ONLY code. No prose, no explanations, no markdown.
- Bind the final answer to the variable result.
- Use only the columns listed in the schema.`

// BuildPrompt assembles the planning prompt from the schema and question.
func BuildPrompt(question string, schema []dataset.ColumnInfo) string {
	var sb strings.Builder
	sb.WriteString(instructions)

	sb.WriteString("\n\n[Schema]\n")
	for _, col := range schema {
		fmt.Fprintf(&sb, "- %s (%s)", col.Name, col.Type)
		if len(col.Examples) > 0 {
			fmt.Fprintf(&sb, ": e.g. %s", strings.Join(col.Examples, ", "))
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("\n[Language]\n")
	sb.WriteString(sandbox.Guide)

	fmt.Fprintf(&sb, "\n\n[Question]\n%s\n", question)
	return sb.String()
}
