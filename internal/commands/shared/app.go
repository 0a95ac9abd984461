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

package shared

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tombee/relay/internal/bot"
	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/mcp"
	"github.com/tombee/relay/internal/secrets"
	"github.com/tombee/relay/internal/storage"
	"github.com/tombee/relay/internal/tracing"
	"github.com/tombee/relay/pkg/llm"
	"github.com/tombee/relay/pkg/llm/providers"
)

// ConsoleChatID is the chat the console REPL and `relay models --pick` use.
const ConsoleChatID = "console"

// App holds the components a command runs against.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *tracing.Provider

	// Redactor masks the API key and secret-looking environment values in
	// log output.
	Redactor *log.Redactor

	Blobs    storage.BlobStore
	History  *storage.HistoryStore
	Settings *storage.SettingsStore

	// Tools is nil when tools are disabled or no servers are configured.
	Tools *mcp.Manager

	// Models and Processor are only built with AppOptions.LLM.
	Models    *providers.OpenAIProvider
	Processor *bot.Processor
}

// AppOptions selects which parts of the App to build.
type AppOptions struct {
	// LLM builds the completion provider and the message processor.
	LLM bool

	// LogOutput receives logs. Defaults to os.Stderr.
	LogOutput io.Writer

	// Dialer overrides how tool servers are opened.
	Dialer mcp.Dialer

	// Secrets overrides the API key resolver. Defaults to secrets.Default().
	Secrets *secrets.Resolver

	// Registerer receives OpenTelemetry metrics. Defaults to the global
	// Prometheus registry.
	Registerer prometheus.Registerer
}

// LoadConfig loads the file named by --config, or the default file when
// present.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(GetConfigPath()))
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger. --verbose forces debug level.
func NewLogger(cfg config.LogConfig, verbose bool, out io.Writer, redactor *log.Redactor) *slog.Logger {
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	return log.New(&log.Config{
		Level:     level,
		Format:    log.Format(cfg.Format),
		Output:    out,
		AddSource: cfg.AddSource,
		Redactor:  redactor,
	})
}

// OpenApp loads configuration and builds an App from it.
func OpenApp(ctx context.Context, opts AppOptions) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewApp(ctx, cfg, opts)
}

// NewApp wires the configured components. Close must be called on success.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	redactor := log.NewRedactor()
	redactor.AddSecretsFromEnv(os.Environ())
	logger := NewLogger(cfg.Log, GetVerbose(), out, redactor)

	app := &App{Config: cfg, Logger: logger, Redactor: redactor}
	if err := app.build(ctx, opts, out); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

func (app *App) build(ctx context.Context, opts AppOptions, out io.Writer) error {
	cfg := app.Config
	logger := app.Logger
	var err error

	v, _, _ := GetVersion()
	app.Telemetry, err = tracing.Setup(ctx, cfg.Tracing, tracing.Options{
		ServiceVersion: v,
		Writer:         out,
		Registerer:     opts.Registerer,
	})
	if err != nil {
		return NewConfigError("failed to set up telemetry", err)
	}

	app.Blobs, err = storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return NewConfigError("failed to open storage", err)
	}
	app.History = storage.NewHistoryStore(app.Blobs)
	app.Settings = storage.NewSettingsStore(app.Blobs, cfg.LLM.DefaultModel)

	if cfg.MCP.Enabled {
		app.Tools, err = newToolManager(cfg.MCP, opts.Dialer, logger, app.Telemetry)
		if err != nil {
			return NewToolError("failed to configure tool servers", err)
		}
	}

	if !opts.LLM {
		return nil
	}

	resolver := opts.Secrets
	if resolver == nil {
		resolver = secrets.Default()
	}
	apiKey, err := resolver.ResolveAPIKey(ctx, cfg.LLM.APIKey)
	if err != nil {
		return NewConfigError("LLM API key is not set", err)
	}
	app.Redactor.AddSecret(apiKey)

	app.Models, err = providers.NewOpenAIProvider(providers.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  apiKey,
		Timeout: cfg.LLM.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return NewProviderError("failed to create LLM provider", err)
	}

	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = cfg.LLM.MaxRetries
	provider := llm.NewRetryableProvider(tracing.WrapProvider(app.Models), retry)

	procOpts := bot.Options{
		Bot:            cfg.Bot,
		MaxIterations:  cfg.MCP.MaxIterations,
		MaxTokens:      cfg.LLM.MaxTokens,
		Provider:       provider,
		Models:         app.Models,
		History:        app.History,
		Settings:       app.Settings,
		Logger:         logger,
		TracerProvider: app.Telemetry.TracerProvider(),
	}
	if app.Tools != nil {
		procOpts.Tools = app.Tools
	}
	app.Processor, err = bot.NewProcessor(procOpts)
	if err != nil {
		return NewConfigError("failed to create message processor", err)
	}
	return nil
}

func newToolManager(cfg config.MCPConfig, dialer mcp.Dialer, logger *slog.Logger, tel *tracing.Provider) (*mcp.Manager, error) {
	path := ResolveServerFile(cfg.ConfigPath)
	servers, err := mcp.LoadServers(path)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		logger.Debug("no tool servers configured", slog.String("path", path))
		return nil, nil
	}
	return mcp.NewManager(mcp.ManagerConfig{
		Servers:        servers,
		Dialer:         dialer,
		ToolTimeout:    cfg.ToolTimeout,
		CacheTTL:       cfg.CacheTTL,
		StartTimeout:   cfg.StartTimeout,
		StopTimeout:    cfg.StopTimeout,
		QueueSize:      cfg.QueueSize,
		ExcludeTools:   cfg.ExcludeTools,
		Logger:         logger,
		TracerProvider: tel.TracerProvider(),
	})
}

// ResolveServerFile looks for a relative server file in the working
// directory first, then in the relay config directory.
func ResolveServerFile(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return path
	}
	candidate := filepath.Join(dir, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// RequireTools returns the tool manager or an error explaining why there
// is none.
func (app *App) RequireTools() (*mcp.Manager, error) {
	if app.Tools != nil {
		return app.Tools, nil
	}
	if !app.Config.MCP.Enabled {
		return nil, NewToolError("tools are disabled", errors.New("set mcp.enabled: true in the config file"))
	}
	return nil, NewToolError("no tool servers configured",
		fmt.Errorf("add servers to %s", app.Config.MCP.ConfigPath))
}

// Close stops tool servers, then closes storage and flushes telemetry.
func (app *App) Close(ctx context.Context) error {
	var errs []error
	if app.Tools != nil {
		if err := app.Tools.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop tool servers: %w", err))
		}
	}
	if app.Blobs != nil {
		if err := app.Blobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
	}
	if app.Telemetry != nil {
		if err := app.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
