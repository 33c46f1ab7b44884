// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIGURATION TYPES
// =============================================================================

// Config is the full service configuration.
type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Index     IndexConfig     `toml:"index"`
	Governor  GovernorConfig  `toml:"governor"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Chat      ChatConfig      `toml:"chat"`
	Server    ServerConfig    `toml:"server"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ProviderConfig locates the completion and embedding upstream.
type ProviderConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	// Backend is "memory" or "postgres".
	Backend     string `toml:"backend"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// GovernorConfig bounds usage and prices requests.
type GovernorConfig struct {
	RequestsPerMinute int     `toml:"requests_per_minute"`
	DailyCapUSD       float64 `toml:"daily_cap_usd"`
	PromptPer1K       float64 `toml:"prompt_per_1k"`
	CompletionPer1K   float64 `toml:"completion_per_1k"`
	EmbeddingPer1K    float64 `toml:"embedding_per_1k"`
}

// RetrievalConfig tunes context retrieval.
type RetrievalConfig struct {
	TopK          int     `toml:"top_k"`
	MaxSections   int     `toml:"max_sections"`
	MaxDistance   float64 `toml:"max_distance"`
	MinChunkChars int     `toml:"min_chunk_chars"`
}

// ChatConfig tunes the orchestrator.
type ChatConfig struct {
	SystemPrompt         string  `toml:"system_prompt"`
	MaxHistory           int     `toml:"max_history"`
	CompletionEstimate   int     `toml:"completion_estimate"`
	MaxTokens            int     `toml:"max_tokens"`
	Temperature          float64 `toml:"temperature"`
	ContextTokenBudget   int     `toml:"context_token_budget"`
	AnswerWithoutContext bool    `toml:"answer_without_context"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr              string   `toml:"addr"`
	BearerToken       string   `toml:"bearer_token"`
	AllowedOrigins    []string `toml:"allowed_origins"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// TelemetryConfig locates the usage database.
type TelemetryConfig struct {
	DatabasePath string `toml:"database_path"`
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns a configuration that runs against the in-memory index.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Index: IndexConfig{
			Backend: "memory",
		},
		Governor: GovernorConfig{
			RequestsPerMinute: 30,
			DailyCapUSD:       10,
			PromptPer1K:       0.00015,
			CompletionPer1K:   0.0006,
			EmbeddingPer1K:    0.00002,
		},
		Retrieval: RetrievalConfig{
			TopK:          6,
			MaxSections:   4,
			MaxDistance:   0.5,
			MinChunkChars: 20,
		},
		Chat: ChatConfig{
			MaxHistory:         5,
			CompletionEstimate: 500,
			MaxTokens:          1024,
			Temperature:        0.2,
			ContextTokenBudget: 2048,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8080",
			RequestsPerMinute: 120,
		},
		Telemetry: TelemetryConfig{
			DatabasePath: "docchat-usage.db",
		},
	}
}

// Load reads TOML from path over the defaults, then applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays deployment-specific values from the environment.
func (c *Config) applyEnv() {
	setString(&c.Provider.APIKey, "DOCCHAT_API_KEY", "OPENAI_API_KEY")
	setString(&c.Provider.BaseURL, "DOCCHAT_BASE_URL")
	setString(&c.Provider.Model, "DOCCHAT_MODEL")
	setString(&c.Provider.EmbeddingModel, "DOCCHAT_EMBEDDING_MODEL")
	setString(&c.Index.Backend, "DOCCHAT_INDEX_BACKEND")
	setString(&c.Index.PostgresDSN, "DOCCHAT_POSTGRES_DSN")
	setString(&c.Server.Addr, "DOCCHAT_ADDR")
	setString(&c.Server.BearerToken, "DOCCHAT_BEARER_TOKEN")
	setString(&c.Telemetry.DatabasePath, "DOCCHAT_USAGE_DB")

	if v := os.Getenv("DOCCHAT_DAILY_CAP_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Governor.DailyCapUSD = f
		}
	}
	if v := os.Getenv("DOCCHAT_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Governor.RequestsPerMinute = n
		}
	}
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case "memory":
	case "postgres":
		if c.Index.PostgresDSN == "" {
			return errors.New("config: postgres backend requires index.postgres_dsn")
		}
	default:
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}

	if c.Governor.RequestsPerMinute < 0 {
		return errors.New("config: governor.requests_per_minute must be >= 0")
	}
	if c.Governor.DailyCapUSD < 0 {
		return errors.New("config: governor.daily_cap_usd must be >= 0")
	}
	if c.Retrieval.TopK < 1 {
		return errors.New("config: retrieval.top_k must be >= 1")
	}
	if c.Retrieval.MaxDistance <= 0 || c.Retrieval.MaxDistance > 2 {
		return errors.New("config: retrieval.max_distance must be in (0, 2]")
	}
	if c.Chat.MaxHistory < 0 {
		return errors.New("config: chat.max_history must be >= 0")
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return errors.New("config: chat.temperature must be in [0, 2]")
	}
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	return nil
}
