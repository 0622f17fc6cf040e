// Package planner turns a natural-language question into analysis code for
// the sandbox using one deterministic completion call.
package planner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
)

// ErrEmptyPlan is returned when the completion contains no code.
var ErrEmptyPlan = errors.New("planner returned no code")

// Options configures a Planner.
type Options struct {
	// Model overrides the completer's default model.
	Model string
}

// Planner generates analysis code.
type Planner struct {
	completer engine.Completer
	model     string
}

// New creates a Planner backed by c.
func New(c engine.Completer, opts Options) *Planner {
	return &Planner{completer: c, model: opts.Model}
}

// Plan returns fence-free code answering question over a dataset with the
// given schema. Service errors are returned unchanged in the chain.
func (p *Planner) Plan(ctx context.Context, question string, schema []dataset.ColumnInfo) (string, error) {
	raw, err := p.completer.Complete(ctx, engine.Request{
		Prompt:        BuildPrompt(question, schema),
		Model:         p.model,
		Deterministic: true,
	})
	if err != nil {
		return "", fmt.Errorf("planning: %w", err)
	}
	code := StripCodeFences(raw)
	if code == "" {
		return "", ErrEmptyPlan
	}
	return code, nil
}

var fenceRe = regexp.MustCompile("(?s)```(?:[A-Za-z0-9_+-]*[ \t]*\r?\n)?(.*?)```")

// StripCodeFences returns the body of the first fenced block in s, with or
// without a language tag. Text without fences is returned trimmed. An
// unterminated opening fence is dropped.
func StripCodeFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			rest = rest[i+1:]
		} else {
			rest = ""
		}
		return strings.TrimSpace(rest)
	}
	return s
}
