package reporter

import (
	"fmt"
	"strings"
)

const defaultMaxResultTokens = 3000

const instructions = `You are writing for an insurance operations executive. Turn the analysis result below into a concise answer to the question.

Rules:
- Lead with the data. State exact numbers from the result; never round them differently or invent figures.
- No greeting, no preamble, no closing remarks, no filler.
- Use short bullet points when listing more than two items.
- If the result is an error or says no result was produced, say plainly that the analysis failed and what went wrong, without guessing an answer.`

// BuildPrompt assembles the narrative prompt. The raw result is trimmed to
// maxTokens, dropping trailing lines first.
func BuildPrompt(question, raw string, maxTokens int) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	fmt.Fprintf(&sb, "\n\n[Question]\n%s\n\n[Analysis Result]\n%s\n", question, truncateLines(raw, maxTokens))
	return sb.String()
}

func truncateLines(s string, maxTokens int) string {
	if EstimateTokens(s) <= maxTokens {
		return s
	}
	lines := strings.Split(s, "\n")
	remaining := maxTokens
	kept := 0
	for _, line := range lines {
		tokens := EstimateTokens(line + "\n")
		if tokens > remaining {
			break
		}
		remaining -= tokens
		kept++
	}
	out := strings.Join(lines[:kept], "\n")
	return fmt.Sprintf("%s\n... (%d more lines truncated)", out, len(lines)-kept)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
