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

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/bot"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/mcp"
	"github.com/tombee/relay/internal/tracing"
)

type fakeChat struct {
	mu       sync.Mutex
	reply    string
	err      error
	messages []string
	commands []string
	corrIDs  []string
}

func (f *fakeChat) Process(ctx context.Context, chatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, chatID+":"+text)
	f.corrIDs = append(f.corrIDs, tracing.FromContextOrEmpty(ctx).String())
	return f.reply, f.err
}

func (f *fakeChat) HandleCommand(ctx context.Context, chatID, text string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, chatID+":"+text)
	return []string{"handled " + text}, nil
}

func echoServer() *server.MCPServer {
	srv := server.NewMCPServer("echo", "1.0.0", server.WithToolCapabilities(false))
	srv.AddTool(
		mcpgo.NewTool("echo", mcpgo.WithDescription("Echo text"), mcpgo.WithString("text", mcpgo.Required())),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText(req.GetString("text", "")), nil
		},
	)
	return srv
}

func newToolManager(t *testing.T) *mcp.Manager {
	t.Helper()
	m, err := mcp.NewManager(mcp.ManagerConfig{
		Servers: []mcp.ServerDescriptor{{Name: "echo", Command: "builtin", Enabled: true}},
		Dialer:  mcp.InProcessDialer{Servers: map[string]*server.MCPServer{"echo": echoServer()}},
		Logger:  log.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.CloseAll(context.Background()) })
	return m
}

func newTestRouter(t *testing.T, chat ChatHandler, tools ToolAPI) *Router {
	t.Helper()
	opts := Options{
		Chat:           chat,
		MessageLimit:   10,
		AllowedOrigins: []string{"https://app.example"},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
		Logger: log.Discard(),
	}
	if tools != nil {
		opts.Tools = tools
	}
	return NewRouter(opts)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, nil, newToolManager(t))
	rec := do(t, r, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Servers)
	assert.NotEmpty(t, rec.Header().Get(tracing.HeaderCorrelationID))
}

func TestMetrics(t *testing.T) {
	r := newTestRouter(t, nil, nil)
	rec := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics\n", rec.Body.String())
}

func TestToolsAndServers(t *testing.T) {
	r := newTestRouter(t, nil, newToolManager(t))

	rec := do(t, r, http.MethodGet, "/v1/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tools := decode[ToolsResponse](t, rec)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)
	assert.Equal(t, "echo", tools.Tools[0].Server)

	rec = do(t, r, http.MethodGet, "/v1/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	servers := decode[ServersResponse](t, rec)
	require.Len(t, servers.Servers, 1)
	assert.Equal(t, "echo", servers.Servers[0].Name)
	assert.True(t, servers.Servers[0].Connected)
	assert.Equal(t, 1, servers.Servers[0].ToolCount)
}

func TestToolsWithoutManager(t *testing.T) {
	r := newTestRouter(t, nil, nil)

	rec := do(t, r, http.MethodGet, "/v1/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tools":[]}`, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/v1/servers", "")
	assert.JSONEq(t, `{"servers":[]}`, rec.Body.String())

	rec = do(t, r, http.MethodPost, "/v1/tools/echo/call", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCallTool(t *testing.T) {
	r := newTestRouter(t, nil, newToolManager(t))

	rec := do(t, r, http.MethodPost, "/v1/tools/echo/call", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, CallToolResponse{Tool: "echo", Output: "hi"}, decode[CallToolResponse](t, rec))

	rec = do(t, r, http.MethodPost, "/v1/tools/missing/call", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodPost, "/v1/tools/echo/call", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"arguments must be a JSON object"}`, rec.Body.String())
}

func TestToolErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, toolErrorStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadGateway, toolErrorStatus(errors.New("broken pipe")))
}

func TestMessage(t *testing.T) {
	chat := &fakeChat{reply: "line one\nline two"}
	r := newTestRouter(t, chat, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chats/42/messages", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set(tracing.HeaderCorrelationID, "11111111-2222-3333-4444-555555555555")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, MessageResponse{Replies: []string{"line one", "line two"}}, decode[MessageResponse](t, rec))
	assert.Equal(t, []string{"42:hello"}, chat.messages)
	assert.Equal(t, []string{"11111111-2222-3333-4444-555555555555"}, chat.corrIDs)
}

func TestMessage_Command(t *testing.T) {
	chat := &fakeChat{}
	r := newTestRouter(t, chat, nil)

	rec := do(t, r, http.MethodPost, "/v1/chats/42/messages", `{"text":"/tools"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"handled /tools"}, decode[MessageResponse](t, rec).Replies)
	assert.Empty(t, chat.messages)
	assert.Equal(t, []string{"42:/tools"}, chat.commands)
}

func TestMessage_RateLimited(t *testing.T) {
	chat := &fakeChat{err: &bot.RateLimitError{ChatID: "42", Wait: 2500 * time.Millisecond}}
	r := newTestRouter(t, chat, nil)

	rec := do(t, r, http.MethodPost, "/v1/chats/42/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestMessage_Errors(t *testing.T) {
	r := newTestRouter(t, &fakeChat{err: errors.New("upstream down")}, nil)

	rec := do(t, r, http.MethodPost, "/v1/chats/42/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream down"}`, rec.Body.String())

	rec = do(t, r, http.MethodPost, "/v1/chats/42/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/v1/chats/42/messages", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, newTestRouter(t, nil, nil), http.MethodPost, "/v1/chats/42/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t, &fakeChat{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/chats/42/messages", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, newTestRouter(t, nil, nil), time.Second, log.Discard())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
