// Package agent answers questions about the communications dataset. Two
// orchestrators are available: Pipeline runs plan, execute and report once;
// Loop lets the model pick between analytics and retrieval tools over
// several reasoning steps.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/metrics"
	"github.com/mdcapital/claimsight/internal/sandbox"
	"github.com/mdcapital/claimsight/internal/storage"
)

// Orchestrator modes.
const (
	ModeLinear = "linear"
	ModeReact  = "react"
)

// Answer is the outcome of one question. Failed is set when any stage
// degraded; Narrative always holds user-facing text.
type Answer struct {
	ID        string        `json:"id"`
	Question  string        `json:"question"`
	Mode      string        `json:"mode"`
	Code      string        `json:"code,omitempty"`
	RawResult string        `json:"raw_result,omitempty"`
	Narrative string        `json:"narrative"`
	Steps     []Step        `json:"steps,omitempty"`
	Failed    bool          `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Step is one traced stage or reasoning iteration.
type Step struct {
	Name    string        `json:"name"`
	Input   string        `json:"input,omitempty"`
	Output  string        `json:"output,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Asker answers a question. Implementations never return an error: every
// failure is explained in the Answer.
type Asker interface {
	Ask(ctx context.Context, question string) Answer
}

// Planner generates analysis code for a question.
type Planner interface {
	Plan(ctx context.Context, question string, schema []dataset.ColumnInfo) (string, error)
}

// Reporter turns a raw result into a narrative.
type Reporter interface {
	Report(ctx context.Context, question, raw string) (string, error)
}

// Executor runs analysis code.
type Executor interface {
	Execute(ctx context.Context, code string, ds *dataset.Dataset) sandbox.Result
}

// Recorder persists answered questions.
type Recorder interface {
	SaveInteraction(i storage.Interaction) error
}

type sourceKey struct{}

// WithSource tags ctx with the surface a question arrived on ("api",
// "mcp", "cli"). The tag is stored with the recorded interaction.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok {
		return s
	}
	return "unknown"
}

// base holds what both orchestrators share.
type base struct {
	store        *dataset.Store
	enricher     dataset.Enricher
	recorder     Recorder
	stageTimeout time.Duration
}

func newAnswer(question, mode string) Answer {
	return Answer{ID: uuid.NewString(), Question: question, Mode: mode}
}

// snapshot runs the one-time enrichment pass if needed and returns the
// snapshot to answer from. Enrichment failure is not fatal.
func (b *base) snapshot(ctx context.Context) *dataset.Dataset {
	if b.enricher == nil {
		return b.store.Current()
	}
	start := time.Now()
	ds, err := b.store.EnsureEnriched(ctx, b.enricher)
	metrics.ObserveStage("enrich", time.Since(start))
	if err != nil {
		slog.Warn("enrichment failed; answering from raw columns", "error", err)
		return b.store.Current()
	}
	return ds
}

// withStageTimeout bounds a single service call.
func (b *base) withStageTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.stageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.stageTimeout)
}

// finish stamps elapsed time, records the interaction and updates metrics.
func (b *base) finish(ctx context.Context, a *Answer, start time.Time) {
	a.Elapsed = time.Since(start)
	metrics.RecordQuestion(a.Mode, a.Failed)
	slog.Info("question answered",
		"id", a.ID,
		"mode", a.Mode,
		"failed", a.Failed,
		"elapsed", a.Elapsed,
	)
	if b.recorder == nil {
		return
	}
	err := b.recorder.SaveInteraction(storage.Interaction{
		ID:        a.ID,
		CreatedAt: start.UTC(),
		Source:    sourceFrom(ctx),
		Question:  a.Question,
		Mode:      a.Mode,
		Code:      a.Code,
		RawResult: a.RawResult,
		Narrative: a.Narrative,
		Failed:    a.Failed,
		ElapsedMS: a.Elapsed.Milliseconds(),
	})
	if err != nil {
		slog.Warn("recording interaction failed", "id", a.ID, "error", err)
	}
}

// caveat warns when code reads derived columns that were partly filled
// with defaults.
func caveat(ds *dataset.Dataset, code string) string {
	rep := ds.Enrichment()
	if !rep.Degraded() {
		return ""
	}
	if !strings.Contains(code, dataset.ColDenialCategory) && !strings.Contains(code, dataset.ColTone) {
		return ""
	}
	return fmt.Sprintf("\n\nNote: %d of %d records could not be classified and carry the default %s %q and %s %q.",
		rep.Unclassified, ds.Len(),
		dataset.ColDenialCategory, dataset.DefaultDenialCategory,
		dataset.ColTone, dataset.DefaultTone)
}

func fallbackNarrative(raw string, err error) string {
	return fmt.Sprintf("An error occurred while preparing the answer: %v\n\nAnalysis result:\n%s", err, raw)
}
