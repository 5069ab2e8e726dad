package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/briefly/internal/feature"
	"github.com/kalambet/briefly/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator Orchestrator
	Store        HistoryStore
}

// NewMCPServer creates an MCP server exposing the research pipeline and
// its history to MCP clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"briefly",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("briefly runs deep research tasks through a background agent and stores structured results."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("research",
			mcp.WithDescription("Run a research task for a topic and return the structured result. May take up to a minute."),
			mcp.WithString("feature", mcp.Description("One of: "+featureList()), mcp.Required()),
			mcp.WithString("topic", mcp.Description("Research topic"), mcp.Required()),
			mcp.WithNumber("count", mcp.Description("Item or paper count, feature dependent")),
			mcp.WithNumber("days", mcp.Description("Lookback window in days, for the window feature")),
		),
		mcpResearch(deps),
	)

	s.AddTool(
		mcp.NewTool("search_history",
			mcp.WithDescription("Search stored research results by topic substring."),
			mcp.WithString("feature", mcp.Description("One of: "+featureList()), mcp.Required()),
			mcp.WithString("query", mcp.Description("Topic substring to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"briefly://recent",
			"Recent Results",
			mcp.WithResourceDescription("Last 10 research results across all features (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func featureList() string {
	names := feature.Names()
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func mcpResearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		featureName, err := req.RequireString("feature")
		if err != nil {
			return mcpError("feature is required"), nil
		}
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}

		resp, err := deps.Orchestrator.Handle(ctx, pipeline.Request{
			Feature: featureName,
			Topic:   topic,
			Params: feature.Params{
				Count: req.GetInt("count", 0),
				Days:  req.GetInt("days", 0),
			},
		})
		if err != nil {
			return mcpError(fmt.Sprintf("research failed: %v", err)), nil
		}

		return mcpText(string(resp.Payload)), nil
	}
}

func mcpSearchHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		featureName, err := req.RequireString("feature")
		if err != nil {
			return mcpError("feature is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", defaultHistoryLimit)
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		rows, err := deps.Store.SearchResults(featureName, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(rows) == 0 {
			return mcpText("[]"), nil
		}

		summaries := make([]historySummary, len(rows))
		for i, row := range rows {
			summaries[i] = historySummary{
				ID:        row.ID,
				Feature:   row.Feature,
				Topic:     row.Topic,
				CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := deps.Store.ListResults("", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent results: %w", err)
		}

		summaries := make([]historySummary, len(rows))
		for i, row := range rows {
			topic := row.Topic
			if utf8.RuneCountInString(topic) > 200 {
				runes := []rune(topic)
				topic = string(runes[:200]) + "..."
			}
			summaries[i] = historySummary{
				ID:        row.ID,
				Feature:   row.Feature,
				Topic:     topic,
				CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal summaries: %w", err)
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
