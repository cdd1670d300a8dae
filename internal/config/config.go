// Package config loads and validates the Strand gateway configuration
// from a YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers ProvidersConfig `yaml:"providers"`
	Redis     RedisConfig     `yaml:"redis"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Context   ContextConfig   `yaml:"context"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the HTTP/SSE surface.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// AdminAPIKey guards the /monitor endpoint.
	AdminAPIKey string `yaml:"admin_api_key"`

	// KeepAliveInterval is the SSE keep-alive comment interval.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
}

// StorageConfig locates the external storage REST API that owns threads,
// messages, runs, actions and assistants.
type StorageConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProviderConfig configures one upstream OpenAI-compatible provider.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProvidersConfig holds the per-provider endpoint map, keyed by the
// canonical provider names used by the arbiter.
type ProvidersConfig map[string]ProviderConfig

// RedisConfig configures the stream mirror.
type RedisConfig struct {
	// URL is a redis:// connection string.
	URL string `yaml:"url"`

	// StreamMaxLen bounds each run's mirror stream (approximate trim).
	StreamMaxLen int64 `yaml:"stream_max_len"`

	// StreamTTL expires idle mirror streams.
	StreamTTL time.Duration `yaml:"stream_ttl"`
}

// SandboxConfig locates the external code-execution and shell servers.
type SandboxConfig struct {
	CodeExecutionURL string        `yaml:"code_execution_url"`
	ShellServerURL   string        `yaml:"shell_server_url"`
	SignedURLSecret  string        `yaml:"signed_url_secret"`
	ConnectRetries   int           `yaml:"connect_retries"`
	ConnectDelay     time.Duration `yaml:"connect_delay"`
	ShellIdleTimeout time.Duration `yaml:"shell_idle_timeout"`
	CrawlerURL       string        `yaml:"crawler_url"`
	VectorHost       string        `yaml:"vector_host"`
	VectorPort       int           `yaml:"vector_port"`
	VectorAPIKey     string        `yaml:"vector_api_key"`
	VectorUseTLS     bool          `yaml:"vector_use_tls"`
}

// ContextConfig tunes conversation assembly and truncation.
type ContextConfig struct {
	MaxContextWindow    int     `yaml:"max_context_window"`
	ThresholdPercentage float64 `yaml:"threshold_percentage"`
	Truncate            bool    `yaml:"truncate"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Environment string  `yaml:"environment"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			KeepAliveInterval: 30 * time.Second,
		},
		Storage: StorageConfig{Timeout: 30 * time.Second},
		Providers: ProvidersConfig{
			"ollama": {BaseURL: "http://localhost:11434/v1"},
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			StreamMaxLen: 1000,
			StreamTTL:    time.Hour,
		},
		Sandbox: SandboxConfig{
			ConnectRetries:   3,
			ConnectDelay:     2 * time.Second,
			ShellIdleTimeout: 2 * time.Second,
			VectorPort:       6334,
		},
		Context: ContextConfig{
			MaxContextWindow:    128000,
			ThresholdPercentage: 0.8,
			Truncate:            true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{SampleRatio: 1.0},
	}
}

// Load reads the optional YAML file at path, expands ${ENV} references,
// then applies environment overrides. A missing file is not an error; the
// environment alone can configure the gateway.
func Load(path string) (*Config, error) {
	// Best effort: a local .env is a development convenience.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays well-known environment variables onto the config.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setStr(&c.Storage.BaseURL, "BASE_URL")
	setStr(&c.Server.AdminAPIKey, "ADMIN_API_KEY")
	setStr(&c.Redis.URL, "REDIS_URL")
	setStr(&c.Sandbox.ShellServerURL, "SHELL_SERVER_URL")
	setStr(&c.Sandbox.CodeExecutionURL, "CODE_EXECUTION_URL")
	setStr(&c.Sandbox.SignedURLSecret, "SIGNED_URL_SECRET")
	setStr(&c.Sandbox.CrawlerURL, "CRAWLER_URL")

	if c.Providers == nil {
		c.Providers = ProvidersConfig{}
	}
	providerEnv := map[string][2]string{
		"hyperbolic": {"HYPERBOLIC_BASE_URL", "HYPERBOLIC_API_KEY"},
		"togetherai": {"TOGETHER_BASE_URL", "TOGETHER_API_KEY"},
		"deepseek":   {"DEEPSEEK_BASE_URL", "DEEPSEEK_API_KEY"},
		"groq":       {"GROQ_BASE_URL", "GROQ_API_KEY"},
		"azure":      {"AZURE_BASE_URL", "AZURE_API_KEY"},
		"google":     {"GOOGLE_BASE_URL", "GOOGLE_API_KEY"},
		"ollama":     {"OLLAMA_BASE_URL", "OLLAMA_API_KEY"},
	}
	for name, keys := range providerEnv {
		pc := c.Providers[name]
		setStr(&pc.BaseURL, keys[0])
		setStr(&pc.APIKey, keys[1])
		if pc != (ProviderConfig{}) {
			c.Providers[name] = pc
		}
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures. Per-provider endpoints are validated lazily at request
// time so that a gateway can serve the providers it does have configured.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if strings.TrimSpace(c.Storage.BaseURL) == "" {
		return fmt.Errorf("storage.base_url is required (set BASE_URL)")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("redis.url is required (set REDIS_URL)")
	}
	if c.Context.MaxContextWindow <= 0 {
		return fmt.Errorf("context.max_context_window must be positive")
	}
	if c.Context.ThresholdPercentage <= 0 || c.Context.ThresholdPercentage > 1 {
		return fmt.Errorf("context.threshold_percentage must be in (0, 1]")
	}
	if c.Redis.StreamMaxLen <= 0 {
		return fmt.Errorf("redis.stream_max_len must be positive")
	}
	return nil
}

// Provider returns the configuration for the named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	pc, ok := c.Providers[name]
	return pc, ok
}
