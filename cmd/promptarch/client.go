package main

import (
	"fmt"
	"os"

	"github.com/promptarchitect/studio/internal/client"
	"github.com/promptarchitect/studio/internal/config"
)

// newAPIClient builds the API client from config and the global flags.
// Tests replace it to point at a fake server.
var newAPIClient = func() (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newClientFor(cfg), nil
}

func newClientFor(cfg config.Config) *client.Client {
	token := flagToken
	if token == "" {
		token = os.Getenv("PROMPTARCH_TOKEN")
	}
	return client.New(serverURL(cfg), client.WithToken(token), client.WithLogger(newLogger(cfg.Log.Level)))
}

func serverURL(cfg config.Config) string {
	if flagServer != "" {
		return flagServer
	}
	return cfg.Client.BaseURL
}
