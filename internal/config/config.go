package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models weave.yml.
type Config struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		BasePath       string   `yaml:"base_path"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Completion Completion `yaml:"completion"`
	Pipeline   struct {
		Workers     int `yaml:"workers"`
		QueueSize   int `yaml:"queue_size"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"pipeline"`
	Matching struct {
		MaxConcurrentTasks int  `yaml:"max_concurrent_tasks"`
		StrictCapacity     bool `yaml:"strict_capacity"`
	} `yaml:"matching"`
	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig receives pipeline outcomes. Outcomes filters by outcome
// status; empty means all.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Outcomes       []string `yaml:"outcomes,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

type Completion struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	Temperature     float32 `yaml:"temperature"`
	TopP            float32 `yaml:"top_p"`
	TopK            float32 `yaml:"top_k"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
}

const (
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "weave.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with weave config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadFile reads and validates config from an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(DefaultYAML), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML overlays raw YAML on the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Completion.Provider {
	case ProviderGemini, ProviderNone:
	default:
		return fmt.Errorf("config.completion.provider must be %q or %q", ProviderGemini, ProviderNone)
	}
	if c.Completion.Provider == ProviderGemini && c.Completion.Model == "" {
		return fmt.Errorf("config.completion.model is required for provider gemini")
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		return fmt.Errorf("config.completion.temperature must be within [0,2]")
	}
	if c.Completion.TopP < 0 || c.Completion.TopP > 1 {
		return fmt.Errorf("config.completion.top_p must be within [0,1]")
	}
	if c.Completion.MaxOutputTokens <= 0 {
		return fmt.Errorf("config.completion.max_output_tokens must be positive")
	}
	if c.Completion.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.completion.timeout_seconds must be positive")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("config.pipeline.workers must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("config.pipeline.queue_size must be at least 1")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("config.pipeline.max_attempts must be at least 1")
	}
	if c.Matching.MaxConcurrentTasks < 1 {
		return fmt.Errorf("config.matching.max_concurrent_tasks must be at least 1")
	}
	for i, hook := range c.Webhooks {
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level must be one of debug, info, warn, error")
	}
	return nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const DefaultYAML = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  allowed_origins: ["*"]

completion:
  provider: gemini
  model: gemini-2.5-flash
  temperature: 0.7
  top_p: 0.95
  top_k: 40
  max_output_tokens: 2048
  timeout_seconds: 30

pipeline:
  workers: 4
  queue_size: 64
  max_attempts: 2

matching:
  max_concurrent_tasks: 10
  strict_capacity: false

logging:
  level: info
  development: false
`
