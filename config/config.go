// Package config loads the bankmesh configuration. Values are layered:
// embedded defaults, then an optional YAML file, then environment
// variables prefixed with BANKMESH_ where "__" separates nested keys
// (BANKMESH_DATABASE__DSN sets database.dsn). A .env file in the working
// directory is loaded into the environment first when present.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/hupe1980/bankmesh/graph"
	"github.com/hupe1980/bankmesh/logging"
	"github.com/hupe1980/bankmesh/storage"
)

//go:embed defaults.yaml
var defaults []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BANKMESH_"

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// Routing classifiers.
const (
	ClassifierKeyword = "keyword"
	ClassifierModel   = "model"
)

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	Model     ModelConfig     `koanf:"model"`
	Agent     AgentConfig     `koanf:"agent"`
	Engine    EngineConfig    `koanf:"engine"`
	Routing   RoutingConfig   `koanf:"routing"`
	Registry  RegistryConfig  `koanf:"registry"`
	Search    SearchConfig    `koanf:"search"`
	Prompts   PromptsConfig   `koanf:"prompts"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Publisher PublisherConfig `koanf:"publisher"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text or json
}

type DatabaseConfig struct {
	Driver     string        `koanf:"driver"` // sqlite or postgres
	DSN        string        `koanf:"dsn"`
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

type ModelConfig struct {
	Provider    string  `koanf:"provider"`
	Name        string  `koanf:"name"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int64   `koanf:"max_tokens"`
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
}

type AgentConfig struct {
	MaxIterations int `koanf:"max_iterations"`
}

type EngineConfig struct {
	HistoryLimit       int `koanf:"history_limit"`
	MaxConcurrentTurns int `koanf:"max_concurrent_turns"`
}

type RoutingConfig struct {
	Variant    string       `koanf:"variant"`
	Classifier string       `koanf:"classifier"`
	Rules      []graph.Rule `koanf:"rules"`
	Fallback   graph.Route  `koanf:"fallback"`
}

type RegistryConfig struct {
	AliasesVersion string            `koanf:"aliases_version"`
	Aliases        map[string]string `koanf:"aliases"`
	CacheSize      int               `koanf:"cache_size"`
}

type SearchConfig struct {
	Backend        string       `koanf:"backend"`  // chromem or qdrant
	Embedder       string       `koanf:"embedder"` // openai or hashing
	EmbeddingModel string       `koanf:"embedding_model"`
	Dims           int          `koanf:"dims"`
	K              int          `koanf:"k"`
	MaxDistance    float32      `koanf:"max_distance"`
	Collection     string       `koanf:"collection"`
	PersistPath    string       `koanf:"persist_path"`
	Qdrant         QdrantConfig `koanf:"qdrant"`
}

type QdrantConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
}

// PromptsConfig overrides the built-in directives. Directives are
// templates; {{.user_id}} and {{.session_id}} are available.
type PromptsConfig struct {
	Coordinator string `koanf:"coordinator"`
	Account     string `koanf:"account"`
	Transaction string `koanf:"transaction"`
	Support     string `koanf:"support"`
	Refusal     string `koanf:"refusal"`
}

type TelemetryConfig struct {
	Exporter    string `koanf:"exporter"` // none, stdout or otlp
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type PublisherConfig struct {
	// Path of the JSONL event file; empty disables publishing.
	Path string `koanf:"path"`
}

// Load reads the configuration. path may be empty; a non-empty path must
// exist.
func Load(path string) (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if _, err := storage.ParseDialect(c.Database.Driver); err != nil {
		errs = append(errs, err)
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderScripted:
	default:
		errs = append(errs, fmt.Errorf("config: unknown model provider %q", c.Model.Provider))
	}

	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("config: agent.max_iterations must be positive, got %d", c.Agent.MaxIterations))
	}

	switch c.Routing.Classifier {
	case ClassifierKeyword, ClassifierModel:
	default:
		errs = append(errs, fmt.Errorf("config: unknown routing classifier %q", c.Routing.Classifier))
	}

	if _, err := c.RoutingRules(); err != nil {
		errs = append(errs, err)
	}

	switch c.Search.Backend {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("config: unknown search backend %q", c.Search.Backend))
	}

	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("config: unknown telemetry exporter %q", c.Telemetry.Exporter))
	}

	return errors.Join(errs...)
}

// RoutingRules returns the configured rules, or the preset of the
// configured variant when none are set.
func (c *Config) RoutingRules() ([]graph.Rule, error) {
	if len(c.Routing.Rules) == 0 {
		return graph.Preset(c.Routing.Variant)
	}

	for i, r := range c.Routing.Rules {
		if r.Target == "" {
			return nil, fmt.Errorf("config: routing rule %d has no target", i)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("config: routing rule %d (%s) has no keywords", i, r.Target)
		}
	}

	return c.Routing.Rules, nil
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() *logging.StructuredLogger {
	return logging.NewSlogLogger(logging.ParseLevel(c.Log.Level), c.Log.Format, false)
}
