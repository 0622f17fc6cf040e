// Package reporter turns raw analysis output into an executive narrative.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mdcapital/claimsight/internal/engine"
)

// ErrEmptyNarrative is returned when the completion is blank.
var ErrEmptyNarrative = errors.New("reporter returned empty narrative")

// Options configures a Reporter.
type Options struct {
	Model string
	// MaxResultTokens bounds the raw result embedded in the prompt. Zero
	// selects the default of 3000.
	MaxResultTokens int
}

// Reporter writes narratives with a single completion call.
type Reporter struct {
	completer engine.Completer
	model     string
	maxTokens int
}

// New creates a Reporter backed by c.
func New(c engine.Completer, opts Options) *Reporter {
	if opts.MaxResultTokens <= 0 {
		opts.MaxResultTokens = defaultMaxResultTokens
	}
	return &Reporter{completer: c, model: opts.Model, maxTokens: opts.MaxResultTokens}
}

// Report returns the trimmed narrative for question given the raw result.
func (r *Reporter) Report(ctx context.Context, question, raw string) (string, error) {
	text, err := r.completer.Complete(ctx, engine.Request{
		Prompt: BuildPrompt(question, raw, r.maxTokens),
		Model:  r.model,
	})
	if err != nil {
		return "", fmt.Errorf("reporting: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyNarrative
	}
	return text, nil
}
