package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
)

type mockCompleter struct {
	completeFn func(ctx context.Context, req engine.Request) (string, error)
	last       engine.Request
}

func (m *mockCompleter) Complete(ctx context.Context, req engine.Request) (string, error) {
	m.last = req
	return m.completeFn(ctx, req)
}

func (m *mockCompleter) Name() string { return "mock" }

func testSchema() []dataset.ColumnInfo {
	ds := dataset.New([]dataset.Record{
		{InsurerName: "Aetna", ClaimStatus: "Denied", Urgency: 5, DaysSinceSubmission: 3, CommunicationText: "x"},
		{InsurerName: "Cigna", ClaimStatus: "Approved", Urgency: 1, DaysSinceSubmission: 9, CommunicationText: "y"},
	})
	return ds.Schema()
}

func TestPlan_ReturnsStrippedCode(t *testing.T) {
	m := &mockCompleter{completeFn: func(context.Context, engine.Request) (string, error) {
		return "```expr\nresult = count(df, .claim_status == \"Denied\")\n```", nil
	}}
	p := New(m, Options{Model: "m1"})

	code, err := p.Plan(context.Background(), "How many claims are Denied?", testSchema())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := `result = count(df, .claim_status == "Denied")`
	if code != want {
		t.Errorf("code = %q, want %q", code, want)
	}
	if !m.last.Deterministic {
		t.Error("planning request is not deterministic")
	}
	if m.last.Model != "m1" {
		t.Errorf("model = %q, want m1", m.last.Model)
	}
}

func TestPlan_ServiceError(t *testing.T) {
	boom := errors.New("quota exceeded")
	m := &mockCompleter{completeFn: func(context.Context, engine.Request) (string, error) {
		return "", boom
	}}
	_, err := New(m, Options{}).Plan(context.Background(), "q", testSchema())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestPlan_EmptyCode(t *testing.T) {
	m := &mockCompleter{completeFn: func(context.Context, engine.Request) (string, error) {
		return "```\n```", nil
	}}
	_, err := New(m, Options{}).Plan(context.Background(), "q", testSchema())
	if !errors.Is(err, ErrEmptyPlan) {
		t.Errorf("err = %v, want ErrEmptyPlan", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Which insurer is slowest?", testSchema())

	for _, want := range []string{
		"- insurer_name (string): e.g. Aetna, Cigna",
		"- urgency (integer): e.g. 5, 1",
		"Bind the final answer to the variable result",
		"group_count(rows, \"by\")",
		"Which insurer is slowest?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "denial_category") {
		t.Error("prompt lists derived columns for an unenriched dataset")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tagged", "```expr\nresult = 1\n```", "result = 1"},
		{"untagged", "```\nresult = 1\n```", "result = 1"},
		{"no fences", "  result = 1 \n", "result = 1"},
		{"surrounding prose", "Here you go:\n```expr\nx = 2\nresult = x\n```\nDone.", "x = 2\nresult = x"},
		{"unterminated", "```expr\nresult = 1", "result = 1"},
		{"inline", "```result = 1```", "result = 1"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.in); got != tt.want {
				t.Errorf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
