package provider

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the Ollama server is reachable and reports which
// allow-listed models are installed. Missing models are reported, not
// pulled: the operator decides what to download.
// Returns a non-nil error if the server is unreachable.
func EnsureReady(ctx context.Context, c *OllamaClient, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not reachable at %s. Start it with: ollama serve", c.baseURL)
	}

	missing := 0
	for _, model := range c.Models() {
		if c.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		missing++
		fmt.Fprintf(w, "model %s: not installed (run: ollama pull %s)\n", model, model)
	}
	if missing == len(c.Models()) && missing > 0 {
		fmt.Fprintf(w, "warning: none of the allow-listed Ollama models are installed\n")
	}
	return nil
}
