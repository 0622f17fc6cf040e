package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/planner"
	"github.com/mdcapital/claimsight/internal/retrieval"
	"github.com/mdcapital/claimsight/internal/sandbox"
)

// ToolKind enumerates the tools available to the reasoning loop.
type ToolKind int

const (
	AnalyticsTool ToolKind = iota
	RetrievalTool
)

// toolKinds maps the names the model uses to tool kinds.
var toolKinds = map[string]ToolKind{
	"analytics_query":  AnalyticsTool,
	"retrieval_search": RetrievalTool,
}

// Name returns the identifier the model uses for k.
func (k ToolKind) Name() string {
	switch k {
	case AnalyticsTool:
		return "analytics_query"
	case RetrievalTool:
		return "retrieval_search"
	}
	return fmt.Sprintf("tool(%d)", int(k))
}

// Tool is invoked with the model's Action Input and returns an observation.
type Tool interface {
	Invoke(ctx context.Context, input string) string
	Description() string
}

// Analytics runs model-written code in the sandbox over the current
// dataset.
type Analytics struct {
	Store    *dataset.Store
	Executor Executor
}

func (t *Analytics) Description() string {
	return "Run analysis code over the full dataset. Use for quantitative questions: counts, averages, rankings, groupings.\n" +
		sandbox.Guide
}

func (t *Analytics) Invoke(ctx context.Context, input string) string {
	code := planner.StripCodeFences(unquote(input))
	ds := t.Store.Current()
	res := t.Executor.Execute(ctx, code, ds)
	return res.String() + caveat(ds, code)
}

// Retrieval searches communication texts by meaning.
type Retrieval struct {
	Searcher *retrieval.Searcher
}

func (t *Retrieval) Description() string {
	return `Search communication records for themes, keywords or patterns. Input is a plain-language search query.
Use for qualitative questions such as "find prior authorization denials" or "how does Aetna word its delays".`
}

func (t *Retrieval) Invoke(ctx context.Context, input string) string {
	hits, err := t.Searcher.Search(ctx, unquote(input), 0)
	switch {
	case errors.Is(err, retrieval.ErrUnavailable):
		return "Retrieval tool unavailable: " + err.Error()
	case err != nil:
		return "Retrieval error: " + err.Error()
	}
	return retrieval.Format(hits)
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return s
	}
	if inner := s[1 : len(s)-1]; strings.IndexByte(inner, q) < 0 {
		return inner
	}
	return s
}
