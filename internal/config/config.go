// Package config handles Reeve configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./reeve.yaml, ~/.config/reeve/config.yaml, /etc/reeve/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"reeve.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reeve", "config.yaml"))
	}

	paths = append(paths, "/etc/reeve/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Reeve configuration.
type Config struct {
	Ollama       OllamaConfig     `yaml:"ollama"`
	Workspace    WorkspaceConfig  `yaml:"workspace"`
	Generation   GenerationConfig `yaml:"generation"`
	Budget       BudgetConfig     `yaml:"budget"`
	ContextFiles []string         `yaml:"context_files"`
	UsageDB      string           `yaml:"usage_db"`
	LogLevel     string           `yaml:"log_level"`
	LogFormat    string           `yaml:"log_format"` // text or json
}

// OllamaConfig defines the generation backend connection.
type OllamaConfig struct {
	// URL is the Ollama base URL, without a trailing slash.
	URL string `yaml:"url"`
	// Model is the model name passed to /api/generate.
	// Check available models with: curl http://localhost:11434/api/tags
	Model string `yaml:"model"`
}

// WorkspaceConfig defines the sandbox root for file operations.
type WorkspaceConfig struct {
	// Path is the root directory all tool operations are confined to.
	// Created on session start if it does not exist.
	Path string `yaml:"path"`
}

// GenerationConfig defines per-request generation parameters.
type GenerationConfig struct {
	// Temperature in [0.0, 1.0].
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps tokens generated per response (num_predict).
	MaxTokens int `yaml:"max_tokens"`
}

// BudgetConfig defines the conversation token budget.
type BudgetConfig struct {
	// ContextWindow is the model's context size in tokens; the
	// conversation state trims against this ceiling.
	ContextWindow int `yaml:"context_window"`
}

// Load reads configuration from a YAML file. Environment variables
// referenced as ${VAR} in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration. The same environment
// variables the original shell workflow relied on (OLLAMA_API_URL,
// OLLAMA_MODEL, TEMPERATURE, MAX_TOKENS, LOG_LEVEL) are honored as
// fallbacks so Reeve runs usefully with no config file at all.
func Default() *Config {
	cfg := &Config{
		Ollama: OllamaConfig{
			URL:   envOr("OLLAMA_API_URL", "http://localhost:11434"),
			Model: envOr("OLLAMA_MODEL", "qwen2.5-coder:7b"),
		},
		Workspace: WorkspaceConfig{
			Path: "workspace",
		},
		Generation: GenerationConfig{
			Temperature: 0.3,
			MaxTokens:   2000,
		},
		Budget: BudgetConfig{
			ContextWindow: 32768,
		},
		UsageDB:   "reeve-usage.db",
		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: "text",
	}

	if v := os.Getenv("TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Generation.Temperature = t
		}
	}
	if v := os.Getenv("MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Generation.MaxTokens = n
		}
	}

	return cfg
}

// Validate checks ranges that would otherwise fail deep inside a session.
func (c *Config) Validate() error {
	if c.Generation.Temperature < 0.0 || c.Generation.Temperature > 1.0 {
		return fmt.Errorf("generation.temperature must be between 0.0 and 1.0, got %v", c.Generation.Temperature)
	}
	if c.Generation.MaxTokens <= 0 {
		return fmt.Errorf("generation.max_tokens must be positive, got %d", c.Generation.MaxTokens)
	}
	if c.Budget.ContextWindow <= 0 {
		return fmt.Errorf("budget.context_window must be positive, got %d", c.Budget.ContextWindow)
	}
	if c.Ollama.URL == "" {
		return fmt.Errorf("ollama.url must not be empty")
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("ollama.model must not be empty")
	}
	if c.Workspace.Path == "" {
		return fmt.Errorf("workspace.path must not be empty")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
