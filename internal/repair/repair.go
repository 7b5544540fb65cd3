// Package repair turns raw provider text into a validated result. Parsing is
// an ordered chain of total parsers: the first that succeeds wins.
package repair

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/prompt"
)

// DegradedExplanation is the whyThisWorks text of a salvaged result.
const DegradedExplanation = "Raw output returned due to parsing error."

// salvageMarker is the key whose presence makes unparseable output salvageable.
const salvageMarker = "refinedPrompt"

// TitleFallbackLength is how many characters of the raw text become the title
// when the title response cannot be parsed.
const TitleFallbackLength = 50

// Stage names the parser that produced a result.
type Stage string

const (
	StageStrict  Stage = "strict"
	StageSalvage Stage = "salvage"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// parser is total: it reports success or failure and never panics on input.
type parser struct {
	stage Stage
	parse func(raw, cleaned string) (prompt.Result, bool)
}

var engineerChain = []parser{
	{StageStrict, parseStrict},
	{StageSalvage, parseSalvage},
}

// Engineered parses the output of the engineer task. When no parser in the
// chain succeeds it returns an LLM_GENERATION_FAILED error carrying the raw
// output in its details.
func Engineered(raw string) (prompt.Result, Stage, error) {
	cleaned := Clean(raw)
	for _, p := range engineerChain {
		if res, ok := p.parse(raw, cleaned); ok {
			return res, p.stage, nil
		}
	}
	return prompt.Result{}, "", apperr.New(apperr.GenerationFailed, "Failed to parse the model output.").
		WithDetail("rawOutput", raw)
}

// Title parses the output of the title task. It never fails.
func Title(raw string) string {
	cleaned := Clean(raw)

	var w titleWire
	if err := json.Unmarshal([]byte(cleaned), &w); err == nil && validate.Struct(&w) == nil {
		if t := strings.TrimSpace(*w.Title); t != "" {
			return t
		}
	}

	if fallback := strings.TrimSpace(truncateRunes(cleaned, TitleFallbackLength)); fallback != "" {
		return fallback
	}
	return "Untitled"
}

// Clean strips markdown code-fence markers and surrounding whitespace.
func Clean(raw string) string {
	s := strings.ReplaceAll(raw, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// engineeredWire uses pointers so missing fields and null elements are
// distinguishable from empty ones.
type engineeredWire struct {
	RefinedPrompt      *string     `json:"refinedPrompt" validate:"required"`
	WhyThisWorks       *string     `json:"whyThisWorks" validate:"required"`
	SuggestedVariables *[]*string  `json:"suggestedVariables" validate:"required,dive,required"`
	Costar             *costarWire `json:"costar"`
}

var (
	engineeredKeys = []string{"refinedPrompt", "whyThisWorks", "suggestedVariables", "costar"}
	costarKeys     = []string{"context", "objective", "style", "tone", "audience", "response"}
)

type costarWire struct {
	Context   *string `json:"context" validate:"required"`
	Objective *string `json:"objective" validate:"required"`
	Style     *string `json:"style" validate:"required"`
	Tone      *string `json:"tone" validate:"required"`
	Audience  *string `json:"audience" validate:"required"`
	Response  *string `json:"response" validate:"required"`
}

type titleWire struct {
	Title *string `json:"title" validate:"required"`
}

func parseStrict(_, cleaned string) (prompt.Result, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &top); err != nil || !exactKeys(top, engineeredKeys) {
		return prompt.Result{}, false
	}
	if c, ok := top["costar"]; ok && string(c) != "null" {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(c, &inner); err != nil || !exactKeys(inner, costarKeys) {
			return prompt.Result{}, false
		}
	}

	var w engineeredWire
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		return prompt.Result{}, false
	}
	if err := validate.Struct(&w); err != nil {
		return prompt.Result{}, false
	}
	if w.Costar != nil {
		if err := validate.Struct(w.Costar); err != nil {
			return prompt.Result{}, false
		}
	}

	vars := make([]string, 0, len(*w.SuggestedVariables))
	for _, v := range *w.SuggestedVariables {
		if v == nil {
			return prompt.Result{}, false
		}
		vars = append(vars, *v)
	}
	res := prompt.Result{
		RefinedPrompt:      *w.RefinedPrompt,
		WhyThisWorks:       *w.WhyThisWorks,
		SuggestedVariables: vars,
	}
	if c := w.Costar; c != nil {
		res.Costar = &prompt.Costar{
			Context:   *c.Context,
			Objective: *c.Objective,
			Style:     *c.Style,
			Tone:      *c.Tone,
			Audience:  *c.Audience,
			Response:  *c.Response,
		}
	}
	return res, true
}

// exactKeys rejects keys that only match a schema key case-insensitively,
// since encoding/json would otherwise accept them as that field.
func exactKeys(obj map[string]json.RawMessage, want []string) bool {
	for k := range obj {
		for _, w := range want {
			if k != w && strings.EqualFold(k, w) {
				return false
			}
		}
	}
	return true
}

func parseSalvage(raw, _ string) (prompt.Result, bool) {
	if !strings.Contains(raw, salvageMarker) {
		return prompt.Result{}, false
	}
	return prompt.Result{
		RefinedPrompt:      raw,
		WhyThisWorks:       DegradedExplanation,
		SuggestedVariables: []string{},
	}, true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
