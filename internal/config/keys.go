package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "PROMPTARCH_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "PROMPTARCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origin", typ: kString, env: "PROMPTARCH_SERVER_CORS_ORIGIN",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigin = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigin },
	},
	{
		key: "provider.default", typ: kString, env: "PROMPTARCH_PROVIDER_DEFAULT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Default = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Default },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PROMPTARCH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.models", typ: kList, env: "PROMPTARCH_OLLAMA_MODELS",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Models = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Ollama.Models, ",") },
	},
	{
		key: "ollama.default_model", typ: kString, env: "PROMPTARCH_OLLAMA_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.DefaultModel },
	},
	{
		key: "ollama.temperature", typ: kFloat, env: "PROMPTARCH_OLLAMA_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ollama.Temperature },
	},
	{
		key: "ollama.gateway_client_id", typ: kString, env: "PROMPTARCH_OLLAMA_GATEWAY_CLIENT_ID",
		apply:   func(cfg *Config, v any) { cfg.Ollama.GatewayClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.GatewayClientID },
	},
	{
		key: "ollama.gateway_client_secret", typ: kString, env: "PROMPTARCH_OLLAMA_GATEWAY_CLIENT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Ollama.GatewayClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.GatewayClientSecret },
	},
	{
		key: "gemini.api_key", typ: kString, env: "PROMPTARCH_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.base_url", typ: kString, env: "PROMPTARCH_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.models", typ: kList, env: "PROMPTARCH_GEMINI_MODELS",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Models = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Gemini.Models, ",") },
	},
	{
		key: "gemini.default_model", typ: kString, env: "PROMPTARCH_GEMINI_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.DefaultModel },
	},
	{
		key: "storage.driver", typ: kString, env: "PROMPTARCH_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PROMPTARCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.dsn", typ: kString, env: "PROMPTARCH_STORAGE_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DSN },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "PROMPTARCH_AUTH_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "auth.audience", typ: kString, env: "PROMPTARCH_AUTH_AUDIENCE",
		apply:   func(cfg *Config, v any) { cfg.Auth.Audience = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Audience },
	},
	{
		key: "titles.auto_generate", typ: kBool, env: "PROMPTARCH_TITLES_AUTO_GENERATE",
		apply:   func(cfg *Config, v any) { cfg.Titles.AutoGenerate = v.(bool) },
		extract: func(cfg Config) any { return cfg.Titles.AutoGenerate },
	},
	{
		key: "mcp.actor", typ: kString, env: "PROMPTARCH_MCP_ACTOR",
		apply:   func(cfg *Config, v any) { cfg.MCP.Actor = v.(string) },
		extract: func(cfg Config) any { return cfg.MCP.Actor },
	},
	{
		key: "log.level", typ: kString, env: "PROMPTARCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "client.base_url", typ: kString, env: "PROMPTARCH_CLIENT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Client.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.BaseURL },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw into the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kList:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secret keys the environment left empty.
func applySecrets(cfg *Config, store secretStore) {
	if store == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := store.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
