package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/prompt"
	"github.com/promptarchitect/studio/internal/provider"
	"github.com/promptarchitect/studio/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, actor string) (MCPDeps, *storage.Store, *stubProvider) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p := &stubProvider{kind: provider.Ollama, models: []string{"llama3.2"}, out: validOutput}
	reg := provider.NewRegistry(provider.Ollama, p)
	svc := engineer.New(reg, store, engineer.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	return MCPDeps{Engineer: svc, Store: store, Actor: actor, Version: "test"}, store, p
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_EngineerPrompt(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t, "mcp-user")
	handler := mcpEngineerPrompt(deps)

	result, err := handler(context.Background(), makeCallToolRequest("engineer_prompt", map[string]interface{}{
		"userInput": "Write a SaaS pitch",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var res prompt.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if res.Provider != "ollama" || res.Model != "llama3.2" || res.ID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	items, err := store.ListHistory(context.Background(), "mcp-user", 10, 0)
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	if len(items) != 1 || items[0].OriginalInput != "Write a SaaS pitch" {
		t.Fatalf("expected one recorded item, got %+v", items)
	}
}

func TestMCPTool_EngineerPrompt_Anonymous(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t, "")

	result, err := mcpEngineerPrompt(deps)(context.Background(), makeCallToolRequest("engineer_prompt", map[string]interface{}{
		"userInput": "Write a SaaS pitch",
	}))
	if err != nil || result.IsError {
		t.Fatalf("unexpected failure: %v", err)
	}
	items, _ := store.RecentHistory(context.Background(), "", 10)
	if len(items) != 0 {
		t.Fatalf("anonymous call recorded %d items", len(items))
	}
}

func TestMCPTool_EngineerPrompt_Errors(t *testing.T) {
	deps, _, p := newTestMCPDeps(t, "")
	handler := mcpEngineerPrompt(deps)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing input", map[string]interface{}{}, "userInput is required"},
		{"empty input", map[string]interface{}{"userInput": ""}, "VALIDATION_ERROR"},
		{"bad provider", map[string]interface{}{"userInput": "x", "provider": "openai"}, "VALIDATION_ERROR"},
		{"unconfigured provider", map[string]interface{}{"userInput": "x", "provider": "gemini"}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("engineer_prompt", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected IsError")
			}
			if text := toolText(t, result); !strings.Contains(text, tt.want) {
				t.Errorf("text = %q, want it to contain %q", text, tt.want)
			}
		})
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times", p.calls)
	}
}

func TestMCPTool_GenerateTitle(t *testing.T) {
	deps, store, p := newTestMCPDeps(t, "mcp-user")
	p.out = "```json\n{\"title\": \"Autumn Haiku\"}\n```"

	result, err := mcpGenerateTitle(deps)(context.Background(), makeCallToolRequest("generate_title", map[string]interface{}{
		"text": "Write a haiku about autumn leaves",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "Autumn Haiku" {
		t.Fatalf("title = %q", got)
	}

	items, _ := store.ListHistory(context.Background(), "mcp-user", 10, 0)
	if len(items) != 0 {
		t.Fatalf("title tool recorded %d items", len(items))
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t, "mcp-user")
	ctx := context.Background()

	res := prompt.Result{RefinedPrompt: "p", Provider: "ollama", Model: "llama3.2", SuggestedVariables: []string{}}
	if _, err := store.InsertHistory(ctx, "mcp-user", "What is Go?", res, ""); err != nil {
		t.Fatalf("inserting history: %v", err)
	}
	if _, err := store.InsertHistory(ctx, "someone-else", "Not mine", res, ""); err != nil {
		t.Fatalf("inserting history: %v", err)
	}

	contents, err := mcpResourceRecent(deps)(ctx, makeReadResourceRequest("history://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 1 || summaries[0]["input"] != "What is Go?" {
		t.Fatalf("unexpected summaries: %v", summaries)
	}
}

func TestMCPResource_Recent_Anonymous(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, "")

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("history://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc := contents[0].(mcp.TextResourceContents); tc.Text != "[]" {
		t.Fatalf("expected empty list, got %s", tc.Text)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, "")
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
