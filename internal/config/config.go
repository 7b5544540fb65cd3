// Package config loads promptarch settings from built-in defaults, a JSON
// file, an optional .env file and PROMPTARCH_* environment variables, in
// that order. Secrets never live in the JSON file; they come from the
// environment or the secrets file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Ollama   OllamaConfig
	Gemini   GeminiConfig
	Storage  StorageConfig
	Auth     AuthConfig
	Titles   TitlesConfig
	MCP      MCPConfig
	Log      LogConfig
	Client   ClientConfig
}

type ServerConfig struct {
	Host       string `validate:"required"`
	Port       int    `validate:"min=1,max=65535"`
	CORSOrigin string `validate:"required"`
}

type ProviderConfig struct {
	Default string `validate:"oneof=gemini ollama"`
}

type OllamaConfig struct {
	BaseURL             string   `validate:"required,url"`
	Models              []string `validate:"min=1,dive,required"`
	DefaultModel        string   `validate:"required"`
	Temperature         float64  `validate:"min=0,max=2"`
	GatewayClientID     string
	GatewayClientSecret string
}

type GeminiConfig struct {
	APIKey       string
	BaseURL      string   `validate:"omitempty,url"`
	Models       []string `validate:"min=1,dive,required"`
	DefaultModel string   `validate:"required"`
}

type StorageConfig struct {
	Driver  string `validate:"oneof=sqlite postgres"`
	DataDir string
	DSN     string `validate:"required_if=Driver postgres"`
}

type AuthConfig struct {
	JWTSecret string
	Audience  string
}

type TitlesConfig struct {
	AutoGenerate bool
}

type MCPConfig struct {
	Actor string
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

type ClientConfig struct {
	BaseURL string `validate:"required,url"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       4100,
			CORSOrigin: "*",
		},
		Provider: ProviderConfig{Default: "ollama"},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			Models:       []string{"llama3.2", "mistral", "qwen2.5"},
			DefaultModel: "llama3.2",
			Temperature:  0.2,
		},
		Gemini: GeminiConfig{
			Models:       []string{"gemini-3-flash-preview", "gemini-2.5-flash", "gemini-2.5-pro"},
			DefaultModel: "gemini-3-flash-preview",
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Auth:   AuthConfig{Audience: "authenticated"},
		Log:    LogConfig{Level: "info"},
		Client: ClientConfig{BaseURL: "http://127.0.0.1:4100"},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/promptarch/config.json, a .env file in the working
// directory, PROMPTARCH_* environment variables and the secrets file at
// $XDG_DATA_HOME/promptarch/secrets.json.
//
// Environment variables override the file. A .env entry never overrides a
// variable that is already set.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()}, ".env")
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(key string) (string, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func loadWith(b ConfigBackend, secrets secretStore, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read env file %s: %v\n", f, err)
		}
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if !contains(cfg.Ollama.Models, cfg.Ollama.DefaultModel) {
		return Config{}, fmt.Errorf("invalid config: ollama.default_model %q is not in ollama.models", cfg.Ollama.DefaultModel)
	}
	if !contains(cfg.Gemini.Models, cfg.Gemini.DefaultModel) {
		return Config{}, fmt.Errorf("invalid config: gemini.default_model %q is not in gemini.models", cfg.Gemini.DefaultModel)
	}
	return cfg, nil
}

// Addr is the server listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
