package ragheal

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ragheal engine.
type Config struct {
	// DBPath is the full path to the single SQLite file backing both
	// the relational tracking tables and the sqlite-vec virtual table.
	// If empty, resolved from RAGHEAL_DB_PATH or a default under the
	// user's home directory.
	DBPath string `json:"db_path" yaml:"db_path"`

	// VectorCollection namespaces the vec0 virtual table logically
	// (kept for parity with backends that support multiple
	// collections in one store; this implementation uses one table).
	VectorCollection string `json:"vector_collection" yaml:"vector_collection"`

	// LLM providers.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// EmbeddingDim must match the configured embedding model's output
	// dimension.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Chunking (character-based, per the recursive splitter).
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// TopK is the default number of results requested from the vector
	// store during retrieval.
	TopK int `json:"top_k" yaml:"top_k"`

	// InitialEpsilon seeds the healing agent's exploration rate.
	InitialEpsilon float64 `json:"initial_epsilon" yaml:"initial_epsilon"`

	// DefaultResponseMode is the mode Engine.AskQuestion (and the
	// ask_question operation) uses when called with an empty mode. Chat
	// sessions start in concise mode and the CLI defaults to concise;
	// neither reads this field.
	DefaultResponseMode string `json:"default_response_mode" yaml:"default_response_mode"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference against an Ollama endpoint.
func DefaultConfig() Config {
	return Config{
		VectorCollection: "ragheal_chunks",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:        768,
		ChunkSize:           500,
		ChunkOverlap:        50,
		TopK:                5,
		InitialEpsilon:      0.3,
		DefaultResponseMode: "concise",
	}
}

// LoadConfig reads a YAML configuration file, falling back to
// DefaultConfig for any field left unset, then applies environment
// variable overrides via ApplyEnv.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides configuration fields from environment variables:
// RAGHEAL_DB_PATH, RAGHEAL_VECTOR_COLLECTION, and the
// RAGHEAL_CHAT_* / RAGHEAL_EMBEDDING_* PROVIDER, MODEL, BASE_URL and
// API_KEY settings. No variable sets an LLM config file or a
// vector-store directory.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RAGHEAL_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("RAGHEAL_VECTOR_COLLECTION"); v != "" {
		c.VectorCollection = v
	}
	if v := os.Getenv("RAGHEAL_CHAT_PROVIDER"); v != "" {
		c.Chat.Provider = v
	}
	if v := os.Getenv("RAGHEAL_CHAT_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("RAGHEAL_CHAT_BASE_URL"); v != "" {
		c.Chat.BaseURL = v
	}
	if v := os.Getenv("RAGHEAL_CHAT_API_KEY"); v != "" {
		c.Chat.APIKey = v
	}
	if v := os.Getenv("RAGHEAL_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("RAGHEAL_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("RAGHEAL_EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("RAGHEAL_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
}

// resolveDBPath returns the configured DB path or a default under the
// user's home directory.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ragheal.db"
	}
	return filepath.Join(home, ".ragheal", "ragheal.db")
}
