package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/promptarchitect/studio/internal/prompt"
)

// GeminiConfig configures the cloud backend.
type GeminiConfig struct {
	APIKey       string
	BaseURL      string // empty uses the SDK default endpoint
	Models       []string
	DefaultModel string
}

// contentGenerator is the slice of *genai.Models the provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient calls the Gemini API through the Google GenAI SDK.
type GeminiClient struct {
	cfg    GeminiConfig
	models contentGenerator
}

// NewGemini creates a Gemini client. It fails only if the SDK rejects the
// configuration; no request is made.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}
	return &GeminiClient{cfg: cfg, models: client.Models}, nil
}

func (c *GeminiClient) Kind() Kind           { return Gemini }
func (c *GeminiClient) Models() []string     { return c.cfg.Models }
func (c *GeminiClient) DefaultModel() string { return c.cfg.DefaultModel }

// Generate issues one GenerateContent call in JSON response mode.
func (c *GeminiClient) Generate(ctx context.Context, model string, ins prompt.Instruction) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(ins.System, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	if ins.Schema != nil {
		config.ResponseSchema = toGenaiSchema(ins.Schema)
	}

	contents := []*genai.Content{genai.NewContentFromText(ins.User, genai.RoleUser)}

	resp, err := c.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", unavailable(Gemini, fmt.Errorf("generate content: %w", err))
	}
	if resp == nil {
		return "", unavailable(Gemini, errors.New("generate content: empty response"))
	}
	return resp.Text(), nil
}

func toGenaiSchema(s *prompt.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiSchema(v)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
