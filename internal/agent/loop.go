package agent

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
	"github.com/mdcapital/claimsight/internal/metrics"
)

const defaultMaxIterations = 6

// LoopDeps wires a Loop. Enricher and Recorder are optional.
type LoopDeps struct {
	Store         *dataset.Store
	Enricher      dataset.Enricher
	Completer     engine.Completer
	Model         string
	Tools         map[ToolKind]Tool
	MaxIterations int
	Recorder      Recorder
	StageTimeout  time.Duration
}

// Loop is a reason-act agent: each iteration the model either calls a
// tool or gives a final answer.
type Loop struct {
	base
	completer engine.Completer
	model     string
	tools     map[ToolKind]Tool
	maxIter   int
}

func NewLoop(d LoopDeps) *Loop {
	if d.MaxIterations <= 0 {
		d.MaxIterations = defaultMaxIterations
	}
	return &Loop{
		base: base{
			store:        d.Store,
			enricher:     d.Enricher,
			recorder:     d.Recorder,
			stageTimeout: d.StageTimeout,
		},
		completer: d.Completer,
		model:     d.Model,
		tools:     d.Tools,
		maxIter:   d.MaxIterations,
	}
}

// Ask runs up to the iteration cap. Hitting the cap yields an
// "Inconclusive" answer carrying the last observation.
func (l *Loop) Ask(ctx context.Context, question string) Answer {
	start := time.Now()
	a := newAnswer(question, ModeReact)
	defer l.finish(ctx, &a, start)

	l.snapshot(ctx)

	var scratch strings.Builder
	lastObservation := ""
	for i := 0; i < l.maxIter; i++ {
		t := time.Now()
		cctx, cancel := l.withStageTimeout(ctx)
		out, err := l.completer.Complete(cctx, engine.Request{
			Prompt: l.buildPrompt(question, scratch.String()),
			Model:  l.model,
		})
		cancel()
		metrics.ObserveStage("reason", time.Since(t))
		if err != nil {
			a.Narrative = fmt.Sprintf("An error occurred while reasoning about the question: %v", err)
			a.Failed = true
			return a
		}

		step := parseStep(out)
		if step.final != "" {
			a.Narrative = step.final
			a.RawResult = lastObservation
			a.Steps = append(a.Steps, Step{Name: "final", Output: step.final, Elapsed: time.Since(t)})
			return a
		}

		observation := l.dispatch(ctx, step)
		lastObservation = observation
		if step.action == AnalyticsTool.Name() {
			a.Code = step.input
		}
		a.Steps = append(a.Steps, Step{
			Name:    "action:" + step.action,
			Input:   step.input,
			Output:  observation,
			Elapsed: time.Since(t),
		})
		writeTurn(&scratch, step, observation)
	}

	a.RawResult = lastObservation
	a.Narrative = fmt.Sprintf("Inconclusive: no final answer after %d reasoning steps. Last observation:\n%s",
		l.maxIter, lastObservation)
	a.Failed = true
	return a
}

func (l *Loop) dispatch(ctx context.Context, s parsedStep) string {
	if s.action == "" {
		return "Could not parse your response. Reply with \"Action:\" and \"Action Input:\", or with \"Final Answer:\". Valid tools: " +
			l.toolList()
	}
	kind, ok := toolKinds[s.action]
	if !ok {
		return fmt.Sprintf("Unknown tool %q. Valid tools: %s", s.action, l.toolList())
	}
	tool, ok := l.tools[kind]
	if !ok {
		return fmt.Sprintf("Tool %q is not configured. Valid tools: %s", s.action, l.toolList())
	}
	t := time.Now()
	obs := tool.Invoke(ctx, s.input)
	metrics.ObserveStage("tool:"+kind.Name(), time.Since(t))
	return obs
}

func (l *Loop) toolNames() []string {
	var names []string
	for k := range l.tools {
		names = append(names, k.Name())
	}
	slices.Sort(names)
	return names
}

func (l *Loop) toolList() string {
	return strings.Join(l.toolNames(), ", ")
}

func (l *Loop) buildPrompt(question, scratch string) string {
	var sb strings.Builder
	sb.WriteString("You answer questions about insurer communications for an executive audience. You have these tools:\n\n")
	for _, name := range l.toolNames() {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", name, l.tools[toolKinds[name]].Description())
	}
	fmt.Fprintf(&sb, `Use this format:

Thought: what to do next
Action: one of [%s]
Action Input: the input for the tool
Observation: the tool result (provided to you)
... (repeat Thought/Action/Action Input/Observation as needed)
Thought: I now know the final answer
Final Answer: a concise, data-first answer with exact numbers and no greeting

Question: %s
`, l.toolList(), question)
	sb.WriteString(scratch)
	return sb.String()
}

type parsedStep struct {
	thought string
	action  string
	input   string
	final   string
}

var (
	finalRe   = regexp.MustCompile(`(?s)Final Answer:\s*(.*)$`)
	actionRe  = regexp.MustCompile(`Action:\s*\[?([A-Za-z_]+)\]?`)
	inputRe   = regexp.MustCompile(`(?s)Action Input:\s*(.*?)\s*(?:\nObservation:|$)`)
	thoughtRe = regexp.MustCompile(`(?s)^\s*(?:Thought:)?\s*(.*?)\s*(?:Action:|Final Answer:|$)`)
)

// parseStep reads one model turn. When both an action and a final answer
// appear, whichever comes first wins.
func parseStep(out string) parsedStep {
	var s parsedStep
	if m := thoughtRe.FindStringSubmatch(out); m != nil {
		s.thought = m[1]
	}
	finalIdx := finalRe.FindStringSubmatchIndex(out)
	actionIdx := actionRe.FindStringSubmatchIndex(out)

	if finalIdx != nil && (actionIdx == nil || finalIdx[0] < actionIdx[0]) {
		s.final = strings.TrimSpace(out[finalIdx[2]:finalIdx[3]])
		return s
	}
	if actionIdx != nil {
		s.action = out[actionIdx[2]:actionIdx[3]]
		if m := inputRe.FindStringSubmatch(out[actionIdx[1]:]); m != nil {
			s.input = m[1]
		}
	}
	return s
}

func writeTurn(sb *strings.Builder, s parsedStep, observation string) {
	if s.thought != "" {
		fmt.Fprintf(sb, "Thought: %s\n", s.thought)
	}
	if s.action != "" {
		fmt.Fprintf(sb, "Action: %s\nAction Input: %s\n", s.action, s.input)
	}
	fmt.Fprintf(sb, "Observation: %s\n", observation)
}
