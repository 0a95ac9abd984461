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

// Package httpapi exposes the relay over HTTP: a chat endpoint that plays
// the role of a chat platform adapter, tool introspection and invocation,
// health and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/tombee/relay/internal/bot"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/mcp"
	"github.com/tombee/relay/internal/tracing"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ChatHandler processes chat messages and slash commands.
type ChatHandler interface {
	Process(ctx context.Context, chatID, text string) (string, error)
	HandleCommand(ctx context.Context, chatID, text string) ([]string, error)
}

// ToolAPI is the tool layer surface exposed over HTTP.
type ToolAPI interface {
	ServerStatus() []mcp.ServerStatus
	GetAllTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Options configures the router.
type Options struct {
	Chat  ChatHandler
	Tools ToolAPI

	// MessageLimit splits long replies. Zero disables splitting.
	MessageLimit int

	// AllowedOrigins for CORS. Empty allows none.
	AllowedOrigins []string

	// Metrics defaults to promhttp.Handler().
	Metrics http.Handler

	Logger *slog.Logger
}

// Router serves the HTTP API.
type Router struct {
	opts   Options
	mux    *chi.Mux
	logger *slog.Logger
	start  time.Time
}

// NewRouter builds the route table.
func NewRouter(opts Options) *Router {
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	r := &Router{
		opts:   opts,
		mux:    chi.NewRouter(),
		logger: log.OrDefault(opts.Logger),
		start:  time.Now(),
	}

	r.mux.Use(middleware.RealIP)
	r.mux.Use(tracing.CorrelationMiddleware)
	r.mux.Use(log.HTTPMiddleware(r.logger))
	r.mux.Use(middleware.Recoverer)
	r.mux.Use(cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Correlation-ID", "Retry-After"},
	}).Handler)

	r.mux.Get("/healthz", r.handleHealth)
	r.mux.Method(http.MethodGet, "/metrics", opts.Metrics)

	r.mux.Route("/v1", func(v1 chi.Router) {
		v1.Get("/servers", r.handleServers)
		v1.Get("/tools", r.handleTools)
		v1.Post("/tools/{name}/call", r.handleCallTool)
		v1.Post("/chats/{chatID}/messages", r.handleMessage)
	})
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// HealthResponse is the response format for /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Servers int    `json:"servers"`
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(r.start).Round(time.Second).String(),
	}
	if r.opts.Tools != nil {
		resp.Servers = len(r.opts.Tools.ServerStatus())
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServersResponse lists tool server status.
type ServersResponse struct {
	Servers []mcp.ServerStatus `json:"servers"`
}

func (r *Router) handleServers(w http.ResponseWriter, _ *http.Request) {
	servers := []mcp.ServerStatus{}
	if r.opts.Tools != nil {
		servers = append(servers, r.opts.Tools.ServerStatus()...)
	}
	writeJSON(w, http.StatusOK, ServersResponse{Servers: servers})
}

// ToolsResponse lists discovered tools.
type ToolsResponse struct {
	Tools []mcp.ToolDescriptor `json:"tools"`
}

func (r *Router) handleTools(w http.ResponseWriter, req *http.Request) {
	tools := []mcp.ToolDescriptor{}
	if r.opts.Tools != nil {
		found, err := r.opts.Tools.GetAllTools(req.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		tools = append(tools, found...)
	}
	writeJSON(w, http.StatusOK, ToolsResponse{Tools: tools})
}

// CallToolResponse is the text output of a tool.
type CallToolResponse struct {
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

func (r *Router) handleCallTool(w http.ResponseWriter, req *http.Request) {
	if r.opts.Tools == nil {
		writeError(w, http.StatusServiceUnavailable, "tools are not configured")
		return
	}
	name := chi.URLParam(req, "name")

	args := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeError(w, http.StatusBadRequest, "arguments must be a JSON object")
			return
		}
	}

	out, err := r.opts.Tools.ExecuteTool(req.Context(), name, args)
	if err != nil {
		writeError(w, toolErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CallToolResponse{Tool: name, Output: out})
}

func toolErrorStatus(err error) int {
	switch {
	case mcp.IsCode(err, mcp.ErrorCodeToolNotFound):
		return http.StatusNotFound
	case mcp.IsCode(err, mcp.ErrorCodeTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// MessageRequest is the body of POST /v1/chats/{chatID}/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse carries the replies in send order.
type MessageResponse struct {
	Replies []string `json:"replies"`
}

func (r *Router) handleMessage(w http.ResponseWriter, req *http.Request) {
	if r.opts.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	chatID := chi.URLParam(req, "chatID")

	var msg MessageRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx := req.Context()
	var replies []string
	if bot.IsCommand(msg.Text) {
		out, err := r.opts.Chat.HandleCommand(ctx, chatID, msg.Text)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		replies = out
	} else {
		text, err := r.opts.Chat.Process(ctx, chatID, msg.Text)
		if err != nil {
			var rle *bot.RateLimitError
			if errors.As(err, &rle) {
				w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfterSeconds()))
				writeError(w, http.StatusTooManyRequests, err.Error())
				return
			}
			r.logger.Error("message processing failed",
				slog.String(log.ChatIDKey, chatID), log.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		replies = bot.SplitMessage(text, r.opts.MessageLimit)
	}
	if replies == nil {
		replies = []string{}
	}
	writeJSON(w, http.StatusOK, MessageResponse{Replies: replies})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
