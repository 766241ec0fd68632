// Package config provides configuration loading and structs for the docchat server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// StorageConfig holds paths for the metadata database and the vector index.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path" validate:"required"`
	VectorIndexPath string `yaml:"vector_index_path" validate:"required"`
	// VectorIndexType is "badger" (durable) or "memory" (snapshotted on shutdown).
	VectorIndexType string `yaml:"vector_index_type" validate:"oneof=badger memory"`
}

// EmbeddingConfig selects and configures the embedding model.
type EmbeddingConfig struct {
	// Provider is "gemini", "onnx", or "hash".
	Provider   string `yaml:"provider" validate:"oneof=gemini onnx hash"`
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions" validate:"min=1"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	APIKey     string `yaml:"-"`
}

// LLMConfig holds language model settings.
type LLMConfig struct {
	DefaultModel        string   `yaml:"default_model" validate:"required"`
	AllowedModels       []string `yaml:"allowed_models"`
	Temperature         float64  `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens           int      `yaml:"max_tokens" validate:"min=1"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	ContextualizePrompt string   `yaml:"contextualize_prompt"`
	GeminiAPIKey        string   `yaml:"-"`
	AnthropicAPIKey     string   `yaml:"-"`
}

// IngestConfig holds upload and chunking settings.
type IngestConfig struct {
	ChunkSize         int      `yaml:"chunk_size" validate:"min=1"`
	ChunkOverlap      int      `yaml:"chunk_overlap" validate:"min=0,ltfield=ChunkSize"`
	AllowedExtensions []string `yaml:"allowed_extensions" validate:"min=1,dive,startswith=."`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes" validate:"min=1"`
}

// RetrievalConfig holds retrieval settings.
type RetrievalConfig struct {
	K int `yaml:"k" validate:"min=1"`
}

// InboxConfig holds the directories watched for files to ingest.
type InboxConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *InboxConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// IsAllowedExtension reports whether ext (with leading dot, any case) may be uploaded.
func (c *IngestConfig) IsAllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range c.AllowedExtensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// IsAllowedModel reports whether model may be requested by a chat caller.
// An empty allow list permits only the default model.
func (c *LLMConfig) IsAllowedModel(model string) bool {
	if model == c.DefaultModel {
		return true
	}
	for _, m := range c.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// Load reads and parses the config file at path, expands paths, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := finish(&cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration built only from defaults and the environment.
// Relative paths are resolved against dir.
func Default(dir string) (*Config, error) {
	var cfg Config
	if err := finish(&cfg, dir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finish(cfg *Config, configDir string) error {
	if err := ApplyEnv(cfg); err != nil {
		return err
	}
	ApplyDefaults(cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Inbox.Directories {
		cfg.Inbox.Directories[i] = expandPath(cfg.Inbox.Directories[i], configDir)
	}

	return cfg.Validate()
}

// ApplyEnv overrides cfg with values from the process environment. API keys are only
// ever read from the environment.
func ApplyEnv(cfg *Config) error {
	cfg.LLM.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.Embedding.APIKey = cfg.LLM.GeminiAPIKey

	if v := os.Getenv("RETRIEVER_K"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RETRIEVER_K %q: %w", v, err)
		}
		cfg.Retrieval.K = k
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		temp, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LLM_TEMPERATURE %q: %w", v, err)
		}
		cfg.LLM.Temperature = temp
	}
	if v := os.Getenv("CONTEXTUALIZE_Q_PROMPT"); v != "" {
		cfg.LLM.ContextualizePrompt = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.DefaultModel = v
	}
	return nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Embedding.Provider == "onnx" && c.Embedding.ModelPath == "" {
		return fmt.Errorf("invalid config: embedding.model_path is required for the onnx provider")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
