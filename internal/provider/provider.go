// Package provider delivers a compiled instruction to one of the two
// supported LLM backends and returns the raw text it produced.
package provider

import (
	"context"
	"slices"
	"strings"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/prompt"
)

// Kind is the closed set of backends.
type Kind string

const (
	// Ollama is the self-hosted backend.
	Ollama Kind = "ollama"
	// Gemini is the cloud backend.
	Gemini Kind = "gemini"
)

// Kinds lists every supported backend in display order.
var Kinds = []Kind{Gemini, Ollama}

// ParseKind validates a wire provider identifier.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Ollama, Gemini:
		return Kind(s), nil
	}
	return "", apperr.New(apperr.Validation, "Invalid provider %q. Allowed: %s.", s, joinKinds(Kinds))
}

// Provider is one configured backend. Generate makes exactly one outbound
// call and never retries; every transport failure comes back as an
// apperr.ServiceUnavailable error.
type Provider interface {
	Kind() Kind
	Models() []string
	DefaultModel() string
	Generate(ctx context.Context, model string, ins prompt.Instruction) (string, error)
}

// Allows reports whether model is on p's allow-list.
func Allows(p Provider, model string) bool {
	return slices.Contains(p.Models(), model)
}

// Registry holds the providers that have credentials configured.
type Registry struct {
	providers map[Kind]Provider
	fallback  Kind
}

// NewRegistry builds a registry. fallback is used when a request names
// neither a provider nor a model.
func NewRegistry(fallback Kind, providers ...Provider) *Registry {
	r := &Registry{providers: make(map[Kind]Provider, len(providers)), fallback: fallback}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the provider of the given kind if it is configured.
func (r *Registry) Get(kind Kind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// Fallback returns the configured default provider kind.
func (r *Registry) Fallback() Kind { return r.fallback }

// Configured returns the registered providers in display order.
func (r *Registry) Configured() []Provider {
	var out []Provider
	for _, k := range Kinds {
		if p, ok := r.providers[k]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Resolve picks the provider and model for a request without touching the
// network. An empty provider with a non-empty model selects the first
// configured provider that allows the model, preferring the fallback.
func (r *Registry) Resolve(providerName, model string) (Provider, string, error) {
	if providerName == "" && model != "" {
		if p := r.owner(model); p != nil {
			return p, model, nil
		}
		return nil, "", apperr.New(apperr.Validation, "Invalid model %q. No configured provider allows it.", model)
	}

	kind := r.fallback
	if providerName != "" {
		k, err := ParseKind(providerName)
		if err != nil {
			return nil, "", err
		}
		kind = k
	}

	p, ok := r.providers[kind]
	if !ok {
		return nil, "", apperr.New(apperr.Validation, "Provider %s is not configured.", kind)
	}

	if model == "" {
		return p, p.DefaultModel(), nil
	}
	if !Allows(p, model) {
		return nil, "", apperr.New(apperr.Validation, "Invalid model %q for provider %s. Allowed: %s.",
			model, kind, strings.Join(p.Models(), ", "))
	}
	return p, model, nil
}

// AllowsAnywhere reports whether some configured provider allows model.
func (r *Registry) AllowsAnywhere(model string) bool {
	return r.owner(model) != nil
}

func (r *Registry) owner(model string) Provider {
	if p, ok := r.providers[r.fallback]; ok && Allows(p, model) {
		return p
	}
	for _, p := range r.Configured() {
		if Allows(p, model) {
			return p
		}
	}
	return nil
}

// Catalogue describes one provider's allow-list for GET /models.
type Catalogue struct {
	Provider     Kind     `json:"provider"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"defaultModel"`
	Default      bool     `json:"default"`
}

// Catalogue lists every configured provider.
func (r *Registry) Catalogue() []Catalogue {
	var out []Catalogue
	for _, p := range r.Configured() {
		out = append(out, Catalogue{
			Provider:     p.Kind(),
			Models:       append([]string(nil), p.Models()...),
			DefaultModel: p.DefaultModel(),
			Default:      p.Kind() == r.fallback,
		})
	}
	return out
}

func joinKinds(ks []Kind) string {
	s := make([]string, len(ks))
	for i, k := range ks {
		s[i] = string(k)
	}
	return strings.Join(s, ", ")
}

func unavailable(kind Kind, err error) error {
	return apperr.Wrap(apperr.ServiceUnavailable, err, "The "+string(kind)+" service is unavailable.").
		WithDetail("provider", string(kind)).
		WithDetail("error", err.Error())
}
