package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/storage"
)

// MCPRecentStore is the slice of storage the history resource reads.
type MCPRecentStore interface {
	RecentHistory(ctx context.Context, userID string, limit int) ([]storage.HistoryItem, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engineer *engineer.Service
	Store    MCPRecentStore // optional; nil disables the history resource
	// Actor attributes MCP calls to a user. Empty means anonymous: nothing
	// is recorded and the history resource is empty.
	Actor   string
	Version string
}

// NewMCPServer creates an MCP server exposing the engineer pipeline.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"promptarch",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("promptarch turns a rough idea into a structured CO-STAR prompt for a large language model."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("engineer_prompt",
			mcp.WithDescription("Rewrite a rough idea into a structured CO-STAR prompt. Returns refinedPrompt, whyThisWorks, suggestedVariables and the six-part breakdown as JSON."),
			mcp.WithString("userInput", mcp.Description("The idea to engineer (1-5000 characters)"), mcp.Required()),
			mcp.WithString("provider", mcp.Description("gemini or ollama; defaults to the server default")),
			mcp.WithString("model", mcp.Description("Model name from the provider's allow-list")),
			mcp.WithString("parentId", mcp.Description("History id this prompt is a variation of")),
		),
		mcpEngineerPrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_title",
			mcp.WithDescription("Summarize text as a 3-6 word title."),
			mcp.WithString("text", mcp.Description("Text to summarize"), mcp.Required()),
			mcp.WithString("provider", mcp.Description("gemini or ollama")),
			mcp.WithString("model", mcp.Description("Model name from the provider's allow-list")),
		),
		mcpGenerateTitle(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"history://recent",
			"Recent Prompts",
			mcp.WithResourceDescription("The ten most recent engineered prompts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpEngineerPrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("userInput")
		if err != nil {
			return mcpError("userInput is required"), nil
		}

		res, err := deps.Engineer.Engineer(ctx, deps.Actor, engineer.Request{
			UserInput: input,
			Provider:  req.GetString("provider", ""),
			Model:     req.GetString("model", ""),
			ParentID:  req.GetString("parentId", ""),
		})
		if err != nil {
			return mcpAppError(err), nil
		}

		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGenerateTitle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		res, err := deps.Engineer.Title(ctx, deps.Actor, engineer.Request{
			UserInput: text,
			Provider:  req.GetString("provider", ""),
			Model:     req.GetString("model", ""),
		})
		if err != nil {
			return mcpAppError(err), nil
		}
		return mcpText(res.Title), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type summary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Title     string `json:"title,omitempty"`
			Input     string `json:"input"`
			Provider  string `json:"provider"`
			Model     string `json:"model"`
		}

		summaries := []summary{}
		if deps.Store != nil && deps.Actor != "" {
			items, err := deps.Store.RecentHistory(ctx, deps.Actor, 10)
			if err != nil {
				return nil, fmt.Errorf("failed to get recent history: %w", err)
			}
			for _, it := range items {
				input := it.OriginalInput
				if r := []rune(input); len(r) > 200 {
					input = string(r[:200]) + "..."
				}
				summaries = append(summaries, summary{
					ID:        it.ID,
					CreatedAt: it.CreatedAt.Format(time.RFC3339),
					Title:     it.CustomTitle,
					Input:     input,
					Provider:  it.Result.Provider,
					Model:     it.Result.Model,
				})
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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

func mcpAppError(err error) *mcp.CallToolResult {
	e := apperr.Classify(err)
	return mcpError(fmt.Sprintf("%s: %s", e.Code, e.Message))
}
