package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mdcapital/claimsight/internal/agent"
	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
	"github.com/mdcapital/claimsight/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server. Interactions may be nil.
type MCPDeps struct {
	Data         *dataset.Store
	Agents       AgentSource
	Searcher     Searcher
	Interactions InteractionStore
	Version      string
}

// NewMCPServer creates an MCP server exposing the assistant's tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"claimsight",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("claimsight answers analytical and qualitative questions about insurer communications."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a business question about insurer communications with an executive narrative."),
			mcp.WithString("question", mcp.Description("Natural-language question"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_communications",
			mcp.WithDescription("Semantically search insurer communication texts and return the closest matches."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("data_summary",
			mcp.WithDescription("Summary statistics of the loaded communications dataset."),
		),
		mcpSummary(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"claimsight://interactions/recent",
			"Recent Questions",
			mcp.WithResourceDescription("Last 10 answered questions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		a, err := deps.Agents.Get("")
		if errors.Is(err, engine.ErrMissingCredential) {
			return mcpError("no API key configured: set llm.api_key or the provider's key variable"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to initialize agent: %v", err)), nil
		}

		ans := a.Ask(agent.WithSource(ctx, "mcp"), question)
		if ans.Failed {
			return mcpError(ans.Narrative), nil
		}
		return mcpText(ans.Narrative), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > maxSearchResults {
			limit = maxSearchResults
		}

		hits, err := deps.Searcher.Search(ctx, query, limit)
		if errors.Is(err, retrieval.ErrUnavailable) {
			return mcpError(fmt.Sprintf("Retrieval tool unavailable: %v", err)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcpText(retrieval.Format(hits)), nil
	}
}

func mcpSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ds := deps.Data.Current()
		if ds == nil {
			return mcpError("no data loaded"), nil
		}
		b, err := json.MarshalIndent(ds.Summary(), "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Interactions == nil {
			return nil, errors.New("interaction history is disabled")
		}
		interactions, err := deps.Interactions.GetRecentInteractions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
			Failed    bool   `json:"failed"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			question := ix.Question
			if utf8.RuneCountInString(question) > 200 {
				runes := []rune(question)
				question = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Question:  question,
				Failed:    ix.Failed,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
