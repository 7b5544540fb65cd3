// Package prompt compiles a raw user idea into the instruction sent to an LLM
// provider. Compilation is pure: no I/O, no clocks, no randomness.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/promptarchitect/studio/internal/apperr"
)

// MaxInputLength is the longest accepted idea, in characters.
const MaxInputLength = 5000

// Task selects what the provider is asked to produce.
type Task string

const (
	TaskEngineer Task = "engineer"
	TaskTitle    Task = "title"
)

// ParseTask maps the wire value to a Task. The empty string means engineer.
func ParseTask(s string) (Task, error) {
	switch Task(s) {
	case "", TaskEngineer:
		return TaskEngineer, nil
	case TaskTitle:
		return TaskTitle, nil
	}
	return "", apperr.New(apperr.Validation, "Invalid task %q. Allowed: engineer, title.", s)
}

// Instruction is the compiled request: a system prompt carrying the
// framework and output contract, the user turn carrying the idea, and the
// JSON schema the provider should constrain its output to where supported.
type Instruction struct {
	Task   Task
	System string
	User   string
	Schema *Schema
}

// Schema is a provider-neutral subset of JSON Schema.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ValidateInput rejects a missing or oversized idea.
func ValidateInput(input string) error {
	if input == "" || utf8.RuneCountInString(input) > MaxInputLength {
		return apperr.New(apperr.Validation, "Input invalid or too long. Max %d characters.", MaxInputLength)
	}
	return nil
}

// Compile builds the instruction for task. It fails with a validation
// error before anything else when input is unacceptable.
func Compile(task Task, input string) (Instruction, error) {
	if err := ValidateInput(input); err != nil {
		return Instruction{}, err
	}

	switch task {
	case TaskEngineer:
		return Instruction{
			Task:   task,
			System: engineerSystemPrompt,
			User:   fmt.Sprintf("User Idea:\n%s", input),
			Schema: EngineeredSchema(),
		}, nil
	case TaskTitle:
		return Instruction{
			Task:   task,
			System: titleSystemPrompt,
			User:   fmt.Sprintf("Text to summarize:\n%s", input),
			Schema: TitleSchema(),
		}, nil
	}
	return Instruction{}, apperr.New(apperr.Validation, "Invalid task %q. Allowed: engineer, title.", string(task))
}

// CostarFields lists the six breakdown fields in the order the framework
// presents them.
var CostarFields = []string{"context", "objective", "style", "tone", "audience", "response"}

const engineerSystemPrompt = `You are an expert Prompt Engineer and LLM specialist. Rewrite the user's raw idea into a strictly structured, high-performance prompt for a large language model.

Structure the refined prompt with the CO-STAR framework:
- Context: background information the model needs about the task.
- Objective: the precise task the model must perform.
- Style: the writing style to emulate (e.g. a specific expert or publication).
- Tone: the attitude of the response (e.g. formal, persuasive, empathetic).
- Audience: who the response is written for.
- Response: the exact format of the output (e.g. a list, a table, JSON, a report).

Use bracketed placeholders such as [TARGET MARKET] for details the user should fill in.

Return ONLY a single JSON object, with no markdown fences and no surrounding prose, with exactly these fields:
{
  "refinedPrompt": "the complete engineered prompt, combining all six CO-STAR sections",
  "whyThisWorks": "a brief explanation of the prompt engineering techniques used",
  "suggestedVariables": ["each placeholder or detail the user could add"],
  "costar": {
    "context": "...",
    "objective": "...",
    "style": "...",
    "tone": "...",
    "audience": "...",
    "response": "..."
  }
}`

const titleSystemPrompt = `You label prompt-engineering sessions. Summarize the user's text as a short title of 3 to 6 words. Do not use quotes or trailing punctuation.

Return ONLY a single JSON object, with no markdown fences and no surrounding prose:
{"title": "the short title"}`

// EngineeredSchema is the output contract of the engineer task.
func EngineeredSchema() *Schema {
	costar := &Schema{
		Type:        "object",
		Description: "Breakdown of the CO-STAR components",
		Properties:  make(map[string]*Schema, len(CostarFields)),
		Required:    append([]string(nil), CostarFields...),
	}
	for _, f := range CostarFields {
		costar.Properties[f] = &Schema{Type: "string"}
	}

	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"refinedPrompt":      {Type: "string", Description: "The fully engineered prompt"},
			"whyThisWorks":       {Type: "string", Description: "Why the techniques used are effective"},
			"suggestedVariables": {Type: "array", Items: &Schema{Type: "string"}},
			"costar":             costar,
		},
		Required: []string{"refinedPrompt", "whyThisWorks", "suggestedVariables", "costar"},
	}
}

// TitleSchema is the output contract of the title task.
func TitleSchema() *Schema {
	return &Schema{
		Type:       "object",
		Properties: map[string]*Schema{"title": {Type: "string", Description: "A 3-6 word label"}},
		Required:   []string{"title"},
	}
}

// Describe renders the instruction for logs without the full idea text.
func (i Instruction) Describe() string {
	return fmt.Sprintf("task=%s system_chars=%d user_chars=%d", i.Task, len(i.System), len(strings.TrimSpace(i.User)))
}
