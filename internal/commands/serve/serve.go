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

// Package serve implements `relay serve`, the HTTP chat API.
package serve

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/httpapi"
	"github.com/tombee/relay/internal/log"
)

// openApp is replaced in tests.
var openApp = func(ctx context.Context) (*shared.App, error) {
	return shared.OpenApp(ctx, shared.AppOptions{LLM: true})
}

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat API",
		Long: `Serve the chat API until interrupted. Messages posted to
/v1/chats/{id}/messages are answered by the model, with access to tools from
the configured servers. Tool servers are stopped on shutdown.

Examples:
  relay serve
  relay serve --addr :9000`,
		GroupID: shared.GroupChat,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				app.Config.Server.Addr = addr
			}

			runErr := run(ctx, app, cmd.OutOrStdout())

			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.Config.MCP.StopTimeout+app.Config.Server.ShutdownTimeout)
			defer cancel()
			if err := app.Close(closeCtx); err != nil {
				app.Logger.Warn("shutdown incomplete", log.Error(err))
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// run serves the API, and the metrics endpoint when configured, until ctx
// is cancelled.
func run(ctx context.Context, app *shared.App, out io.Writer) error {
	cfg := app.Config

	opts := httpapi.Options{
		Chat:           app.Processor,
		MessageLimit:   cfg.Bot.MessageLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         app.Logger,
	}
	if app.Tools != nil {
		opts.Tools = app.Tools
	}
	router := httpapi.NewRouter(opts)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return shared.NewConfigError("failed to listen", err)
	}
	var mln net.Listener
	if cfg.Metrics.Addr != "" {
		if mln, err = net.Listen("tcp", cfg.Metrics.Addr); err != nil {
			ln.Close()
			return shared.NewConfigError("failed to listen for metrics", err)
		}
	}

	fmt.Fprintln(out, shared.RenderOK("relay listening on http://"+ln.Addr().String()))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.Serve(ctx, ln, router, cfg.Server.ShutdownTimeout, app.Logger)
	})
	if mln != nil {
		fmt.Fprintln(out, shared.RenderOK("metrics on http://"+mln.Addr().String()+"/metrics"))
		g.Go(func() error {
			return httpapi.Serve(ctx, mln, promhttp.Handler(), cfg.Server.ShutdownTimeout, app.Logger)
		})
	}

	return g.Wait()
}
