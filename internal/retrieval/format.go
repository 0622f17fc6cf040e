package retrieval

import (
	"fmt"
	"strings"
)

// Format renders hits as text for a language model or a terminal.
func Format(hits []Hit) string {
	if len(hits) == 0 {
		return "No relevant documents found."
	}
	var b strings.Builder
	b.WriteString("Found relevant communications:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "\n--- Result %d (score: %.3f) ---\n", i+1, h.Score)
		fmt.Fprintf(&b, "Content: %s\n", h.Content)
		fmt.Fprintf(&b, "Metadata: insurer=%s status=%s urgency=%d days_since_submission=%d\n",
			h.Metadata.Insurer, h.Metadata.Status, h.Metadata.Urgency, h.Metadata.DaysSinceSubmission)
	}
	return b.String()
}
