package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
	"github.com/mdcapital/claimsight/internal/retrieval"
	"github.com/mdcapital/claimsight/internal/sandbox"
)

type failingEmbedder struct{}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func (failingEmbedder) Name() string { return "failing" }

func TestAnalytics_Invoke(t *testing.T) {
	tool := &Analytics{Store: dataset.NewStore(threeRecords()), Executor: sandbox.New(time.Second)}

	if got := tool.Invoke(context.Background(), "```\nresult = count(df, .insurer_name == \"A\")\n```"); got != "2" {
		t.Errorf("got %q, want 2", got)
	}
	if got := tool.Invoke(context.Background(), `"result = len(df)"`); got != "3" {
		t.Errorf("quoted input: got %q, want 3", got)
	}
	if got := tool.Invoke(context.Background(), "result = column(df, \"nope\")"); !strings.Contains(got, "Available columns") {
		t.Errorf("got %q, want column hint", got)
	}
}

func TestRetrieval_Invoke(t *testing.T) {
	tool := &Retrieval{Searcher: &retrieval.Searcher{
		Store:    dataset.NewStore(threeRecords()),
		Cache:    retrieval.NewIndexCache(time.Minute, 2),
		Embedder: engine.NewHashEmbedder(0),
		TopK:     1,
	}}
	got := tool.Invoke(context.Background(), "prior authorization")
	if !strings.Contains(got, "Denied pending prior authorization.") {
		t.Errorf("got %q, want the prior authorization record", got)
	}
	if strings.Contains(got, "Result 2") {
		t.Errorf("got more than TopK results:\n%s", got)
	}
}

func TestRetrieval_Unavailable(t *testing.T) {
	tool := &Retrieval{Searcher: &retrieval.Searcher{
		Store:    dataset.NewStore(threeRecords()),
		Cache:    retrieval.NewIndexCache(time.Minute, 2),
		Embedder: failingEmbedder{},
		TopK:     5,
	}}
	got := tool.Invoke(context.Background(), "anything")
	if !strings.HasPrefix(got, "Retrieval tool unavailable:") {
		t.Errorf("got %q, want unavailable message", got)
	}
}

func TestToolKindNames(t *testing.T) {
	for name, kind := range toolKinds {
		if kind.Name() != name {
			t.Errorf("kind %d name = %q, want %q", kind, kind.Name(), name)
		}
	}
}

func TestUnquote(t *testing.T) {
	tests := map[string]string{
		`"x"`:       "x",
		`'x'`:       "x",
		`"a" + "b"`: `"a" + "b"`,
		` plain `:   "plain",
		`"`:         `"`,
	}
	for in, want := range tests {
		if got := unquote(in); got != want {
			t.Errorf("unquote(%q) = %q, want %q", in, got, want)
		}
	}
}
