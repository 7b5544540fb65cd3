package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/promptarchitect/studio/internal/prompt"
)

// Gateway header names sent when the Ollama server sits behind an access proxy.
const (
	headerGatewayClientID     = "CF-Access-Client-Id"
	headerGatewayClientSecret = "CF-Access-Client-Secret"
)

// OllamaConfig configures the self-hosted backend.
type OllamaConfig struct {
	BaseURL      string
	Models       []string
	DefaultModel string
	Temperature  float64

	// Both must be set for the gateway headers to be attached.
	GatewayClientID     string
	GatewayClientSecret string
}

// OllamaClient talks to an Ollama server over its HTTP API.
type OllamaClient struct {
	cfg        OllamaConfig
	baseURL    string
	httpClient *http.Client
}

// NewOllama creates a client for the Ollama server at cfg.BaseURL.
func NewOllama(cfg OllamaConfig) *OllamaClient {
	return &OllamaClient{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (c *OllamaClient) Kind() Kind           { return Ollama }
func (c *OllamaClient) Models() []string     { return c.cfg.Models }
func (c *OllamaClient) DefaultModel() string { return c.cfg.DefaultModel }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  chatOptions     `json:"options"`
}

// chatResponse is the JSON returned by POST /api/chat (non-streaming).
type chatResponse struct {
	Message ollamaMessage `json:"message"`
}

// Generate sends one non-streaming chat request. The instruction's schema
// is passed as the structured output format.
func (c *OllamaClient) Generate(ctx context.Context, model string, ins prompt.Instruction) (string, error) {
	cr := chatRequest{
		Model: model,
		Messages: []ollamaMessage{
			{Role: "system", Content: ins.System},
			{Role: "user", Content: ins.User},
		},
		Options: chatOptions{Temperature: c.cfg.Temperature},
	}
	if ins.Schema != nil {
		cr.Format = ins.Schema
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", unavailable(Ollama, fmt.Errorf("creating chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	c.setGatewayHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", unavailable(Ollama, fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", unavailable(Ollama, fmt.Errorf("chat: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", unavailable(Ollama, fmt.Errorf("decoding chat response: %w", err))
	}
	return result.Message.Content, nil
}

func (c *OllamaClient) setGatewayHeaders(req *http.Request) {
	if c.cfg.GatewayClientID == "" || c.cfg.GatewayClientSecret == "" {
		return
	}
	req.Header.Set(headerGatewayClientID, c.cfg.GatewayClientID)
	req.Header.Set(headerGatewayClientSecret, c.cfg.GatewayClientSecret)
}

// tagsResponse mirrors the JSON returned by GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsRunning returns true if the server responds to GET /api/tags with 200.
func (c *OllamaClient) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	c.setGatewayHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of all models installed on the server.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setGatewayHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether name is installed. Ollama reports tagged names
// ("llama3.2:latest"), so an untagged name matches any tag.
func (c *OllamaClient) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}
