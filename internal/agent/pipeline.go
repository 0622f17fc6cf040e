package agent

import (
	"context"
	"time"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/metrics"
)

// PipelineDeps wires a Pipeline. Enricher and Recorder are optional.
type PipelineDeps struct {
	Store        *dataset.Store
	Enricher     dataset.Enricher
	Planner      Planner
	Executor     Executor
	Reporter     Reporter
	Recorder     Recorder
	StageTimeout time.Duration
}

// Pipeline answers with a single plan, execute, report pass.
type Pipeline struct {
	base
	planner  Planner
	executor Executor
	reporter Reporter
}

func NewPipeline(d PipelineDeps) *Pipeline {
	return &Pipeline{
		base: base{
			store:        d.Store,
			enricher:     d.Enricher,
			recorder:     d.Recorder,
			stageTimeout: d.StageTimeout,
		},
		planner:  d.Planner,
		executor: d.Executor,
		reporter: d.Reporter,
	}
}

// Ask runs the pipeline. Planner, sandbox and reporter failures are folded
// into the Answer; the narrative always explains what happened.
func (p *Pipeline) Ask(ctx context.Context, question string) Answer {
	start := time.Now()
	a := newAnswer(question, ModeLinear)
	defer p.finish(ctx, &a, start)

	ds := p.snapshot(ctx)

	code, planStep, err := p.plan(ctx, question, ds)
	a.Steps = append(a.Steps, planStep)
	if err != nil {
		a.RawResult = "Planner error: " + err.Error()
		a.Failed = true
	} else {
		a.Code = code
		t := time.Now()
		res := p.executor.Execute(ctx, code, ds)
		a.RawResult = res.String() + caveat(ds, code)
		a.Failed = res.IsError()
		a.Steps = append(a.Steps, Step{Name: "execute", Input: code, Output: a.RawResult, Elapsed: time.Since(t)})
		metrics.ObserveStage("execute", time.Since(t))
	}

	t := time.Now()
	rctx, cancel := p.withStageTimeout(ctx)
	narrative, err := p.reporter.Report(rctx, question, a.RawResult)
	cancel()
	metrics.ObserveStage("report", time.Since(t))
	if err != nil {
		a.Narrative = fallbackNarrative(a.RawResult, err)
		a.Failed = true
	} else {
		a.Narrative = narrative
	}
	a.Steps = append(a.Steps, Step{Name: "report", Output: a.Narrative, Elapsed: time.Since(t)})
	return a
}

func (p *Pipeline) plan(ctx context.Context, question string, ds *dataset.Dataset) (string, Step, error) {
	t := time.Now()
	ctx, cancel := p.withStageTimeout(ctx)
	defer cancel()
	code, err := p.planner.Plan(ctx, question, ds.Schema())
	metrics.ObserveStage("plan", time.Since(t))
	step := Step{Name: "plan", Input: question, Output: code, Elapsed: time.Since(t)}
	if err != nil {
		step.Output = err.Error()
	}
	return code, step, err
}
