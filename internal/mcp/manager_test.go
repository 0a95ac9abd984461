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

package mcp_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/mcp"
	mcptest "github.com/tombee/relay/internal/mcp/testing"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T, dialer *mcptest.MockDialer, mutate func(*mcp.ManagerConfig)) *mcp.Manager {
	t.Helper()
	cfg := mcp.ManagerConfig{
		Servers: dialer.Descriptors(),
		Dialer:  dialer,
		Logger:  log.Discard(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := mcp.NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.CloseAll(context.Background()) })
	return m
}

func twoServerDialer() *mcptest.MockDialer {
	return mcptest.NewMockDialer().
		Register("alpha", func() *mcptest.MockSession {
			return mcptest.NewMockSession("search", "fetch").WithResult("search", "from alpha")
		}).
		Register("beta", func() *mcptest.MockSession {
			return mcptest.NewMockSession("weather").WithResult("weather", "sunny")
		})
}

func toolNames(tools []mcp.ToolDescriptor) []string {
	out := make([]string, len(tools))
	for i, tool := range tools {
		out[i] = tool.Name
	}
	return out
}

func TestNewManager_Validation(t *testing.T) {
	t.Run("invalid exclude pattern", func(t *testing.T) {
		_, err := mcp.NewManager(mcp.ManagerConfig{ExcludeTools: []string{"[unclosed"}})
		assert.True(t, mcp.IsCode(err, mcp.ErrorCodeConfig), "got %v", err)
	})

	t.Run("duplicate server names", func(t *testing.T) {
		desc := mcp.ServerDescriptor{Name: "a", Command: "a", Enabled: true}
		_, err := mcp.NewManager(mcp.ManagerConfig{Servers: []mcp.ServerDescriptor{desc, desc}})
		assert.True(t, mcp.IsCode(err, mcp.ErrorCodeConfig))
	})

	t.Run("disabled servers are ignored", func(t *testing.T) {
		m, err := mcp.NewManager(mcp.ManagerConfig{Servers: []mcp.ServerDescriptor{
			{Name: "off", Command: "off"},
		}})
		require.NoError(t, err)
		assert.False(t, m.IsConfigured())
		assert.Empty(t, m.Servers())
	})
}

func TestManager_GetAllTools(t *testing.T) {
	dialer := twoServerDialer()
	m := newManager(t, dialer, nil)
	ctx := context.Background()

	tools, err := m.GetAllTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"search", "fetch", "weather"}, toolNames(tools))
	assert.Equal(t, "alpha", tools[0].Server)
	assert.Equal(t, "beta", tools[2].Server)

	// A valid cache is served without touching the servers again.
	_, err = m.GetAllTools(ctx)
	require.NoError(t, err)
	assert.Len(t, dialer.Session("alpha").Calls(), 1)
	assert.Equal(t, 1, dialer.Dials("alpha"))

	llmTools, err := m.LLMTools(ctx)
	require.NoError(t, err)
	assert.Len(t, llmTools, 3)
	assert.Equal(t, "weather", llmTools[2].Name)
}

func TestManager_RefreshesExpiredCache(t *testing.T) {
	c := &clock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	dialer := twoServerDialer()
	m := newManager(t, dialer, func(cfg *mcp.ManagerConfig) {
		cfg.CacheTTL = time.Minute
		cfg.Now = c.Now
	})
	ctx := context.Background()

	_, err := m.GetAllTools(ctx)
	require.NoError(t, err)

	dialer.Session("beta").SetTools("weather", "forecast")
	c.Advance(30 * time.Second)
	tools, err := m.GetAllTools(ctx)
	require.NoError(t, err)
	assert.NotContains(t, toolNames(tools), "forecast", "cache still fresh")

	c.Advance(30 * time.Second)
	tools, err = m.GetAllTools(ctx)
	require.NoError(t, err)
	assert.Contains(t, toolNames(tools), "forecast")
	assert.Len(t, dialer.Session("beta").Calls(), 2)
}

func TestManager_IsolatesFailingServers(t *testing.T) {
	dialer := twoServerDialer()
	dialer.Register("broken", func() *mcptest.MockSession { return mcptest.NewMockSession("never") })
	dialer.FailDial("broken", errors.New("exit status 1"))
	m := newManager(t, dialer, nil)

	tools, err := m.GetAllTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"search", "fetch", "weather"}, toolNames(tools))

	out, err := m.ExecuteTool(context.Background(), "weather", nil)
	require.NoError(t, err)
	assert.Equal(t, "sunny", out)

	var broken mcp.ServerStatus
	for _, st := range m.ServerStatus() {
		if st.Name == "broken" {
			broken = st
		}
	}
	assert.False(t, broken.Connected)
	assert.Equal(t, "disconnected", broken.State)
	assert.Contains(t, broken.LastError, "exit status 1")
}

func TestManager_ExecuteToolRoutesToOwner(t *testing.T) {
	dialer := twoServerDialer()
	m := newManager(t, dialer, nil)
	ctx := context.Background()

	// Cold cache: the owner is found by searching every server.
	out, err := m.ExecuteTool(ctx, "weather", map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "sunny", out)

	calls := dialer.Session("beta").ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"city": "Oslo"}, calls[0].Args)
	assert.Empty(t, dialer.Session("alpha").ToolCalls())

	_, err = m.GetAllTools(ctx)
	require.NoError(t, err)
	out, err = m.ExecuteTool(ctx, "search", nil)
	require.NoError(t, err)
	assert.Equal(t, "from alpha", out)
}

func TestManager_ToolNotFound(t *testing.T) {
	m := newManager(t, twoServerDialer(), nil)

	_, err := m.ExecuteTool(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.True(t, mcp.IsCode(err, mcp.ErrorCodeToolNotFound), "got %v", err)
}

func TestManager_ExecutionErrorEvictsConnectionAndMapping(t *testing.T) {
	dialer := twoServerDialer()
	m := newManager(t, dialer, nil)
	ctx := context.Background()

	_, err := m.GetAllTools(ctx)
	require.NoError(t, err)

	first := dialer.Session("alpha")
	first.SetCallError(errors.New("broken pipe"))

	_, err = m.ExecuteTool(ctx, "search", nil)
	require.Error(t, err)
	assert.True(t, mcp.IsCode(err, mcp.ErrorCodeExecution), "got %v", err)
	assert.Contains(t, err.Error(), "broken pipe")

	assert.True(t, first.Closed())
	_, cached := m.Cache().Lookup("search")
	assert.False(t, cached)

	// The next request reconnects with a fresh session.
	out, err := m.ExecuteTool(ctx, "search", nil)
	require.NoError(t, err)
	assert.Equal(t, "from alpha", out)
	assert.Equal(t, 2, dialer.Dials("alpha"))
}

func TestManager_StaleMappingReroutes(t *testing.T) {
	c := &clock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	dialer := twoServerDialer()
	m := newManager(t, dialer, func(cfg *mcp.ManagerConfig) {
		cfg.CacheTTL = time.Minute
		cfg.Now = c.Now
	})
	ctx := context.Background()

	_, err := m.GetAllTools(ctx)
	require.NoError(t, err)

	// weather moves from beta to alpha. The refresh updates what each
	// connection knows; the mapping is then pinned back to beta.
	dialer.Session("alpha").SetTools("search", "fetch", "weather")
	dialer.Session("beta").SetTools("forecast")
	c.Advance(2 * time.Minute)
	_, err = m.GetAllTools(ctx)
	require.NoError(t, err)
	m.Cache().Set("weather", "beta")

	out, err := m.ExecuteTool(ctx, "weather", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	require.Len(t, dialer.Session("alpha").ToolCalls(), 1)
	assert.Empty(t, dialer.Session("beta").ToolCalls())

	server, cached := m.Cache().Lookup("weather")
	assert.True(t, cached)
	assert.Equal(t, "alpha", server)
}

func TestManager_CallFailureOnOneServerLeavesOthersUsable(t *testing.T) {
	dialer := twoServerDialer()
	m := newManager(t, dialer, nil)
	ctx := context.Background()

	_, err := m.GetAllTools(ctx)
	require.NoError(t, err)
	dialer.Session("alpha").SetCallError(errors.New("connection reset"))

	_, err = m.ExecuteTool(ctx, "search", nil)
	require.Error(t, err)
	assert.True(t, mcp.IsCode(err, mcp.ErrorCodeExecution), "got %v", err)

	out, err := m.ExecuteTool(ctx, "weather", nil)
	require.NoError(t, err)
	assert.Equal(t, "sunny", out)

	assert.False(t, dialer.Session("beta").Closed())
	assert.Equal(t, 1, dialer.Dials("beta"))
	for _, st := range m.ServerStatus() {
		if st.Name == "beta" {
			assert.True(t, st.Connected)
		}
	}
}

func TestManager_TimeoutClosesConnectionWithoutEviction(t *testing.T) {
	dialer := mcptest.NewMockDialer().Register("slow", func() *mcptest.MockSession {
		return mcptest.NewMockSession("crawl").WithCallDelay(5 * time.Second)
	})
	m := newManager(t, dialer, func(cfg *mcp.ManagerConfig) {
		cfg.ToolTimeout = 50 * time.Millisecond
	})
	ctx := context.Background()

	_, err := m.GetAllTools(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = m.ExecuteTool(ctx, "crawl", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, mcp.IsCode(err, mcp.ErrorCodeTimeout), "got %v", err)

	assert.True(t, dialer.Session("slow").Closed())
	server, cached := m.Cache().Lookup("crawl")
	assert.True(t, cached)
	assert.Equal(t, "slow", server)
}

func TestManager_ToolErrorResultIsReturnedAsText(t *testing.T) {
	dialer := mcptest.NewMockDialer().Register("geo", func() *mcptest.MockSession {
		return mcptest.NewMockSession("locate").WithCallFunc(
			func(context.Context, string, map[string]any) (mcp.Result, error) {
				return mcp.TextResult{Text: "unknown city", IsError: true}, nil
			})
	})
	m := newManager(t, dialer, nil)

	out, err := m.ExecuteTool(context.Background(), "locate", nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown city", out)
	assert.False(t, dialer.Session("geo").Closed())
}

func TestManager_ExcludeTools(t *testing.T) {
	m := newManager(t, twoServerDialer(), func(cfg *mcp.ManagerConfig) {
		cfg.ExcludeTools = []string{"alpha/fe*", "weather"}
	})
	ctx := context.Background()

	tools, err := m.GetAllTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, toolNames(tools))

	_, err = m.ExecuteTool(ctx, "fetch", nil)
	assert.True(t, mcp.IsCode(err, mcp.ErrorCodeToolNotFound))
	_, err = m.ExecuteTool(ctx, "weather", nil)
	assert.True(t, mcp.IsCode(err, mcp.ErrorCodeToolNotFound))
}

func TestManager_ConcurrentCallersShareOneConnection(t *testing.T) {
	dialer := mcptest.NewMockDialer().Register("alpha", func() *mcptest.MockSession {
		return mcptest.NewMockSession("search").WithCallDelay(2 * time.Millisecond)
	})
	dialer.SetDialDelay(20 * time.Millisecond)
	m := newManager(t, dialer, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.ExecuteTool(ctx, "search", nil)
			assert.NoError(t, err)
			assert.Equal(t, "ok", out)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, dialer.Dials("alpha"))
	assert.Equal(t, 1, dialer.Session("alpha").MaxConcurrent())
}

func TestManager_ServerStatus(t *testing.T) {
	dialer := twoServerDialer()
	m := newManager(t, dialer, func(cfg *mcp.ManagerConfig) {
		cfg.ExcludeTools = []string{"fetch"}
	})

	statuses := m.ServerStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "disconnected", statuses[0].State)

	_, err := m.GetAllTools(context.Background())
	require.NoError(t, err)

	statuses = m.ServerStatus()
	assert.Equal(t, mcp.ServerStatus{Name: "alpha", Connected: true, State: "ready", ToolCount: 1}, statuses[0])
	assert.Equal(t, mcp.ServerStatus{Name: "beta", Connected: true, State: "ready", ToolCount: 1}, statuses[1])
}

func TestManager_CloseAll(t *testing.T) {
	dialer := twoServerDialer()
	m := newManager(t, dialer, nil)
	ctx := context.Background()

	_, err := m.GetAllTools(ctx)
	require.NoError(t, err)

	require.NoError(t, m.CloseAll(ctx))
	assert.True(t, dialer.Session("alpha").Closed())
	assert.True(t, dialer.Session("beta").Closed())
	assert.False(t, m.Cache().IsValid())

	_, err = m.ExecuteTool(ctx, "search", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, dialer.Dials("alpha"), "a closed manager must not reconnect")
}

func TestManager_ExecuteToolSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := newManager(t, twoServerDialer(), func(cfg *mcp.ManagerConfig) {
		cfg.TracerProvider = tp
	})

	_, err := m.ExecuteTool(context.Background(), "weather", nil)
	require.NoError(t, err)

	var exec sdktrace.ReadOnlySpan
	discovers := 0
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "mcp.execute_tool":
			exec = s
		case "mcp.discover":
			discovers++
		}
	}
	require.NotNil(t, exec)
	assert.Contains(t, exec.Attributes(), attribute.String("mcp.server", "beta"))
	assert.Contains(t, exec.Attributes(), attribute.String("mcp.tool", "weather"))
	assert.Equal(t, 2, discovers)
}
