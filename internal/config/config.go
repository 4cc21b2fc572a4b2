package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override config keys, e.g.
// DOCRAG_RETRIEVAL_RELATION_WINDOW -> retrieval.relation_window.
const EnvPrefix = "DOCRAG_"

// OpenAIConfig holds connection settings for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string       `yaml:"type"`
	OpenAI OpenAIConfig `yaml:"openai"`
}

// CompletionConfig configures the answer model. Model, token and temperature
// settings are fixed for the lifetime of the service.
type CompletionConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// RetrievalConfig holds per-query defaults.
type RetrievalConfig struct {
	RelationWindow   int  `yaml:"relation_window"`
	IncludeRelations bool `yaml:"include_relations"`
	MaxSources       int  `yaml:"max_sources"`
	MaxGroupItems    int  `yaml:"max_group_items"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type    string        `yaml:"type"`
	Chromem ChromemConfig `yaml:"chromem"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
}

type ChromemConfig struct {
	Path             string `yaml:"path"`
	Compress         bool   `yaml:"compress"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	APIKey           string `yaml:"api_key"`
	UseTLS           bool   `yaml:"use_tls"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	OutputsDir         string `yaml:"outputs_dir"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Completion  CompletionConfig  `yaml:"completion"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// RequestTimeout returns the per-request deadline for the HTTP server.
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSecs) * time.Second
}

// Validate rejects unknown implementation names and out-of-range values.
func (c *AppConfig) Validate() error {
	var errs []error
	switch c.Embedder.Type {
	case "openai", "tfidf":
	default:
		errs = append(errs, fmt.Errorf("embedder.type %q: want openai or tfidf", c.Embedder.Type))
	}
	switch c.VectorStore.Type {
	case "memory", "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("vector_store.type %q: want memory, chromem or qdrant", c.VectorStore.Type))
	}
	if c.Retrieval.RelationWindow < 0 {
		errs = append(errs, errors.New("retrieval.relation_window must be >= 0"))
	}
	if c.Completion.MaxTokens < 0 {
		errs = append(errs, errors.New("completion.max_tokens must be >= 0"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Load reads a config from path, layered over defaults and under DOCRAG_*
// environment overrides. A missing file yields defaults plus env.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := k.Load(rawbytes.Provider(defaults), koanfyaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(data), koanfyaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	keys := envKeyIndex(k.Keys())
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		// Keys are matched against the known config keys so that section and
		// field names containing underscores resolve unambiguously.
		name := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		if key, ok := keys[name]; ok {
			return key
		}
		return ""
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg AppConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKeyIndex maps "retrieval_relation_window" style names to "retrieval.relation_window".
func envKeyIndex(keys []string) map[string]string {
	idx := make(map[string]string, len(keys))
	for _, k := range keys {
		idx[strings.ReplaceAll(k, ".", "_")] = k
	}
	return idx
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/docrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err != nil {
		if err := Save(userPath, DefaultConfig()); err != nil {
			return nil, "", err
		}
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Embedder: EmbedderConfig{
			Type: "openai",
			OpenAI: OpenAIConfig{
				APIKeyEnv:   "OPENAI_API_KEY",
				Model:       "text-embedding-3-small",
				TimeoutSecs: 60,
			},
		},
		Completion: CompletionConfig{
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "gpt-4o-mini",
			MaxTokens:   4096,
			Temperature: 0.2,
			TimeoutSecs: 120,
		},
		Retrieval: RetrievalConfig{
			RelationWindow:   2,
			IncludeRelations: true,
			MaxSources:       3,
			MaxGroupItems:    5,
		},
		VectorStore: VectorStoreConfig{
			Type:    "memory",
			Chromem: ChromemConfig{CollectionPrefix: "docrag"},
			Qdrant:  QdrantConfig{Host: "localhost", Port: 6334, CollectionPrefix: "docrag"},
		},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 3},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8000,
			OutputsDir:         "api_outputs",
			RequestTimeoutSecs: 120,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}
