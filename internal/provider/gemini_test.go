package provider

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/promptarchitect/studio/internal/apperr"
)

type fakeGenerator struct {
	text   string
	err    error
	calls  int
	model  string
	config *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

func TestGeminiGenerate(t *testing.T) {
	fake := &fakeGenerator{text: `{"refinedPrompt":"p"}`}
	c := &GeminiClient{cfg: GeminiConfig{Models: []string{"gemini-3-flash-preview"}}, models: fake}

	out, err := c.Generate(context.Background(), "gemini-3-flash-preview", testInstruction(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"refinedPrompt":"p"}` {
		t.Errorf("out = %q", out)
	}
	if fake.model != "gemini-3-flash-preview" {
		t.Errorf("model = %q", fake.model)
	}
	if fake.config.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q, want application/json", fake.config.ResponseMIMEType)
	}
	costar := fake.config.ResponseSchema.Properties["costar"]
	if costar == nil || costar.Type != genai.TypeObject || len(costar.Required) != 6 {
		t.Errorf("costar schema = %+v", costar)
	}
	if vars := fake.config.ResponseSchema.Properties["suggestedVariables"]; vars.Items == nil || vars.Items.Type != genai.TypeString {
		t.Errorf("suggestedVariables schema = %+v", vars)
	}
}

func TestGeminiGenerate_ErrorIsUnavailable(t *testing.T) {
	fake := &fakeGenerator{err: errors.New("dial tcp: connection refused")}
	c := &GeminiClient{models: fake}

	_, err := c.Generate(context.Background(), "gemini-3-flash-preview", testInstruction(t))
	if apperr.CodeOf(err) != apperr.ServiceUnavailable {
		t.Fatalf("code = %s, want %s", apperr.CodeOf(err), apperr.ServiceUnavailable)
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want exactly 1 (no retries at this layer)", fake.calls)
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), GeminiConfig{}); err == nil {
		t.Fatal("NewGemini with empty key succeeded")
	}
}
