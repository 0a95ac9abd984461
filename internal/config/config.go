// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads relay configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	relayerrors "github.com/tombee/relay/pkg/errors"
)

// DefaultSystemPrompt keeps replies short enough for chat platforms with a
// per-message size limit.
const DefaultSystemPrompt = "Keep your responses concise and to the point. Prefer shorter answers over long explanations. If listing items, limit to the most important ones. Maximum response length: ~3000 characters."

// Config is the top-level relay configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	LLM     LLMConfig     `yaml:"llm"`
	MCP     MCPConfig     `yaml:"mcp"`
	Bot     BotConfig     `yaml:"bot"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// LLMConfig configures the OpenAI-compatible completion API.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`

	// APIKey is optional in the file. When empty the OS keychain is consulted.
	APIKey string `yaml:"api_key,omitempty"`

	DefaultModel string `yaml:"default_model"`

	// MaxTokens caps completion length. Zero leaves it to the API.
	MaxTokens int `yaml:"max_tokens"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the transport-level retry count for idempotent requests.
	MaxRetries int `yaml:"max_retries"`
}

// MCPConfig configures the tool server layer.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// ConfigPath points at the JSON or YAML file listing tool servers.
	ConfigPath string `yaml:"config_path"`

	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	StartTimeout  time.Duration `yaml:"start_timeout"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
	MaxIterations int           `yaml:"max_iterations"`
	QueueSize     int           `yaml:"queue_size"`

	// ExcludeTools holds glob patterns matched against "server/tool".
	ExcludeTools []string `yaml:"exclude_tools"`
}

// BotConfig configures message processing.
type BotConfig struct {
	MaxHistory        int           `yaml:"max_history"`
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	APIMaxRetries     int           `yaml:"api_max_retries"`
	SystemPrompt      string        `yaml:"system_prompt"`
	MessageLimit      int           `yaml:"message_limit"`
	SplitLimit        int           `yaml:"split_limit"`
}

// StorageConfig selects the chat history and settings backend.
type StorageConfig struct {
	// Backend is one of memory, sqlite, s3.
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	S3      S3Config `yaml:"s3"`
}

// S3Config configures the S3 blob backend.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`

	// PathStyle addresses objects as endpoint/bucket/key.
	PathStyle bool `yaml:"path_style"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is one of stdout, otlp-http, otlp-grpc.
	Exporter   string  `yaml:"exporter"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			DefaultModel:   "gpt-4o-mini",
			RequestTimeout: 60 * time.Second,
			MaxRetries:     2,
		},
		MCP: MCPConfig{
			Enabled:       true,
			ConfigPath:    "mcp.json",
			ToolTimeout:   30 * time.Second,
			CacheTTL:      300 * time.Second,
			StartTimeout:  30 * time.Second,
			StopTimeout:   5 * time.Second,
			MaxIterations: 5,
			QueueSize:     16,
		},
		Bot: BotConfig{
			MaxHistory:        50,
			RateLimitRequests: 10,
			RateLimitWindow:   60 * time.Second,
			APIMaxRetries:     2,
			SystemPrompt:      DefaultSystemPrompt,
			MessageLimit:      4000,
			SplitLimit:        3500,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}
}

// Load reads configuration from a YAML file (optional), fills defaults,
// applies environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &relayerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, &relayerrors.ConfigError{
			Key:    "environment",
			Reason: err.Error(),
			Cause:  err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &relayerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Relative server file paths resolve against the config file location.
	if c.MCP.ConfigPath != "" && !filepath.IsAbs(c.MCP.ConfigPath) {
		c.MCP.ConfigPath = filepath.Join(filepath.Dir(path), c.MCP.ConfigPath)
	}
	return nil
}

// applyDefaults fills zero values so minimal files work.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = d.LLM.BaseURL
	}
	if c.LLM.DefaultModel == "" {
		c.LLM.DefaultModel = d.LLM.DefaultModel
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = d.LLM.RequestTimeout
	}
	if c.MCP.ConfigPath == "" {
		c.MCP.ConfigPath = d.MCP.ConfigPath
	}
	if c.MCP.ToolTimeout == 0 {
		c.MCP.ToolTimeout = d.MCP.ToolTimeout
	}
	if c.MCP.CacheTTL == 0 {
		c.MCP.CacheTTL = d.MCP.CacheTTL
	}
	if c.MCP.StartTimeout == 0 {
		c.MCP.StartTimeout = d.MCP.StartTimeout
	}
	if c.MCP.StopTimeout == 0 {
		c.MCP.StopTimeout = d.MCP.StopTimeout
	}
	if c.MCP.MaxIterations == 0 {
		c.MCP.MaxIterations = d.MCP.MaxIterations
	}
	if c.MCP.QueueSize == 0 {
		c.MCP.QueueSize = d.MCP.QueueSize
	}
	if c.Bot.MaxHistory == 0 {
		c.Bot.MaxHistory = d.Bot.MaxHistory
	}
	if c.Bot.RateLimitRequests == 0 {
		c.Bot.RateLimitRequests = d.Bot.RateLimitRequests
	}
	if c.Bot.RateLimitWindow == 0 {
		c.Bot.RateLimitWindow = d.Bot.RateLimitWindow
	}
	if c.Bot.SystemPrompt == "" {
		c.Bot.SystemPrompt = d.Bot.SystemPrompt
	}
	if c.Bot.MessageLimit == 0 {
		c.Bot.MessageLimit = d.Bot.MessageLimit
	}
	if c.Bot.SplitLimit == 0 {
		c.Bot.SplitLimit = d.Bot.SplitLimit
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
}

// loadFromEnv applies environment overrides. Unprefixed names are the ones
// existing deployments already export. Numeric values that do not parse
// are reported together.
func (c *Config) loadFromEnv() error {
	var env envReader

	envString(&c.Log.Level, "RELAY_LOG_LEVEL", "LOG_LEVEL")
	envString(&c.Log.Format, "RELAY_LOG_FORMAT", "LOG_FORMAT")
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	envString(&c.LLM.BaseURL, "RELAY_LLM_BASE_URL", "OPENAI_BASE_URL")
	envString(&c.LLM.APIKey, "RELAY_LLM_API_KEY", "OPENAI_API_KEY")
	envString(&c.LLM.DefaultModel, "RELAY_LLM_DEFAULT_MODEL")
	env.integer(&c.LLM.MaxTokens, "RELAY_LLM_MAX_TOKENS")
	env.duration(&c.LLM.RequestTimeout, "RELAY_LLM_REQUEST_TIMEOUT")

	envBool(&c.MCP.Enabled, "RELAY_MCP_ENABLED")
	envString(&c.MCP.ConfigPath, "RELAY_MCP_CONFIG_PATH", "MCP_CONFIG_PATH")
	env.duration(&c.MCP.ToolTimeout, "RELAY_MCP_TOOL_TIMEOUT", "MCP_TOOL_TIMEOUT")
	env.duration(&c.MCP.CacheTTL, "RELAY_MCP_CACHE_TTL", "MCP_CACHE_TTL")
	env.integer(&c.MCP.MaxIterations, "RELAY_MCP_MAX_ITERATIONS", "MCP_MAX_ITERATIONS")

	env.integer(&c.Bot.MaxHistory, "RELAY_BOT_MAX_HISTORY", "MAX_HISTORY_LENGTH")
	env.integer(&c.Bot.RateLimitRequests, "RELAY_BOT_RATE_LIMIT_REQUESTS", "RATE_LIMIT_REQUESTS")
	env.duration(&c.Bot.RateLimitWindow, "RELAY_BOT_RATE_LIMIT_WINDOW", "RATE_LIMIT_WINDOW")
	env.integer(&c.Bot.APIMaxRetries, "RELAY_BOT_API_MAX_RETRIES", "API_MAX_RETRIES")

	envString(&c.Storage.Backend, "RELAY_STORAGE_BACKEND")
	envString(&c.Storage.Path, "RELAY_STORAGE_PATH")
	envString(&c.Storage.S3.Bucket, "RELAY_S3_BUCKET", "S3_BUCKET")
	envString(&c.Storage.S3.Region, "RELAY_S3_REGION", "AWS_REGION")
	envString(&c.Storage.S3.Endpoint, "RELAY_S3_ENDPOINT", "S3_ENDPOINT")

	envString(&c.Server.Addr, "RELAY_SERVER_ADDR")
	envBool(&c.Tracing.Enabled, "RELAY_TRACING_ENABLED")
	envString(&c.Tracing.Exporter, "RELAY_TRACING_EXPORTER")
	envString(&c.Tracing.Endpoint, "RELAY_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	envString(&c.Metrics.Addr, "RELAY_METRICS_ADDR")
	return env.err()
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if !strings.HasPrefix(c.LLM.BaseURL, "http://") && !strings.HasPrefix(c.LLM.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("llm.base_url must start with http:// or https://, got %q", c.LLM.BaseURL))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Sprintf("llm.max_tokens must be >= 0, got %d", c.LLM.MaxTokens))
	}
	if c.LLM.RequestTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("llm.request_timeout must be positive, got %v", c.LLM.RequestTimeout))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("llm.max_retries must be >= 0, got %d", c.LLM.MaxRetries))
	}

	if c.MCP.ToolTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("mcp.tool_timeout must be positive, got %v", c.MCP.ToolTimeout))
	}
	if c.MCP.CacheTTL <= 0 {
		errs = append(errs, fmt.Sprintf("mcp.cache_ttl must be positive, got %v", c.MCP.CacheTTL))
	}
	if c.MCP.StopTimeout <= 0 || c.MCP.StartTimeout <= 0 {
		errs = append(errs, "mcp.start_timeout and mcp.stop_timeout must be positive")
	}
	if c.MCP.MaxIterations < 1 {
		errs = append(errs, fmt.Sprintf("mcp.max_iterations must be at least 1, got %d", c.MCP.MaxIterations))
	}
	if c.MCP.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("mcp.queue_size must be at least 1, got %d", c.MCP.QueueSize))
	}

	if c.Bot.MaxHistory < 1 {
		errs = append(errs, fmt.Sprintf("bot.max_history must be at least 1, got %d", c.Bot.MaxHistory))
	}
	if c.Bot.RateLimitRequests < 1 || c.Bot.RateLimitWindow <= 0 {
		errs = append(errs, "bot.rate_limit_requests and bot.rate_limit_window must be positive")
	}
	if c.Bot.APIMaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("bot.api_max_retries must be >= 0, got %d", c.Bot.APIMaxRetries))
	}
	if c.Bot.SplitLimit > c.Bot.MessageLimit {
		errs = append(errs, fmt.Sprintf("bot.split_limit (%d) must not exceed bot.message_limit (%d)", c.Bot.SplitLimit, c.Bot.MessageLimit))
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for the sqlite backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, "storage.s3.bucket is required for the s3 backend")
		}
		if c.Storage.S3.Region == "" {
			errs = append(errs, "storage.s3.region is required for the s3 backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be one of [memory, sqlite, s3], got %q", c.Storage.Backend))
	}

	switch c.Tracing.Exporter {
	case "stdout", "otlp-http", "otlp-grpc":
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp-http, otlp-grpc], got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// envString sets *dst from the first non-empty variable in names.
func envString(dst *string, names ...string) {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			*dst = val
			return
		}
	}
}

func envBool(dst *bool, names ...string) {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			*dst = val == "1" || strings.EqualFold(val, "true")
			return
		}
	}
}

// envReader applies numeric overrides and remembers the ones that fail to
// parse.
type envReader struct {
	invalid []string
}

func (e *envReader) integer(dst *int, names ...string) {
	for _, name := range names {
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			e.invalid = append(e.invalid, fmt.Sprintf("%s=%q is not an integer", name, val))
			return
		}
		*dst = n
		return
	}
}

// duration accepts Go durations ("45s") or bare seconds ("45").
func (e *envReader) duration(dst *time.Duration, names ...string) {
	for _, name := range names {
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		} else if secs, err := strconv.Atoi(val); err == nil {
			*dst = time.Duration(secs) * time.Second
		} else {
			e.invalid = append(e.invalid, fmt.Sprintf("%s=%q is not a duration or a number of seconds", name, val))
		}
		return
	}
}

func (e *envReader) err() error {
	if len(e.invalid) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment override: %s", strings.Join(e.invalid, "; "))
}
