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

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/pkg/llm"
)

const tracerName = "github.com/tombee/relay/internal/mcp"

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Servers is the fixed set of tool servers. Disabled entries are ignored.
	Servers []ServerDescriptor

	// Dialer opens sessions. Defaults to StdioDialer.
	Dialer Dialer

	// ToolTimeout bounds each tool call. Defaults to 30s.
	ToolTimeout time.Duration

	// CacheTTL is how long discovered tools are trusted. Defaults to 5m.
	CacheTTL time.Duration

	StartTimeout time.Duration
	StopTimeout  time.Duration
	QueueSize    int

	// ExcludeTools are doublestar patterns matched against "server/tool"
	// and the bare tool name. Matching tools are hidden from discovery.
	ExcludeTools []string

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider

	// Now overrides the cache clock in tests.
	Now func() time.Time
}

// Manager owns the live connections to every configured tool server and
// exposes discovery and dispatch across the whole set.
type Manager struct {
	cfg     ManagerConfig
	servers map[string]ServerDescriptor
	order   []string
	cache   *ToolCache
	logger  *slog.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	conns   map[string]*Connection
	dialing map[string]*dialAttempt
	lastErr map[string]error
	closed  bool
}

// dialAttempt lets concurrent callers share one in-flight connect.
type dialAttempt struct {
	done chan struct{}
	conn *Connection
	err  error
}

// NewManager validates cfg and returns a manager. No server is launched
// until it is first needed.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Dialer == nil {
		cfg.Dialer = StdioDialer{}
	}
	for _, p := range cfg.ExcludeTools {
		if !doublestar.ValidatePattern(p) {
			return nil, errConfig("", fmt.Sprintf("invalid exclude_tools pattern %q", p))
		}
	}

	logger := log.OrDefault(cfg.Logger)
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	m := &Manager{
		cfg:     cfg,
		servers: make(map[string]ServerDescriptor),
		cache:   NewToolCache(cfg.CacheTTL, cfg.Now, logger),
		logger:  logger,
		tracer:  tp.Tracer(tracerName),
		conns:   make(map[string]*Connection),
		dialing: make(map[string]*dialAttempt),
		lastErr: make(map[string]error),
	}

	for _, desc := range cfg.Servers {
		if !desc.Enabled {
			continue
		}
		if desc.Transport == "" {
			desc.Transport = TransportStdio
		}
		if err := ValidateDescriptor(desc); err != nil {
			return nil, err
		}
		if _, dup := m.servers[desc.Name]; dup {
			return nil, errConfig(desc.Name, "duplicate server name")
		}
		m.servers[desc.Name] = desc
		m.order = append(m.order, desc.Name)
	}

	return m, nil
}

// IsConfigured reports whether at least one server is configured.
func (m *Manager) IsConfigured() bool {
	return len(m.order) > 0
}

// Servers returns the configured descriptors in configuration order.
func (m *Manager) Servers() []ServerDescriptor {
	out := make([]ServerDescriptor, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.servers[name])
	}
	return out
}

// Cache exposes the tool cache for introspection.
func (m *Manager) Cache() *ToolCache {
	return m.cache
}

// connection returns a ready connection for server, connecting if needed.
// Concurrent callers for the same server share one connect attempt.
func (m *Manager) connection(ctx context.Context, server string) (*Connection, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errNotRunning(server)
	}
	if conn, ok := m.conns[server]; ok {
		if conn.State() == StateReady {
			m.mu.Unlock()
			return conn, nil
		}
		delete(m.conns, server)
		activeConnections.Dec()
		go func() { _ = conn.Stop() }()
	}
	if attempt, ok := m.dialing[server]; ok {
		m.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.conn, attempt.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	desc, ok := m.servers[server]
	if !ok {
		m.mu.Unlock()
		return nil, errConfig(server, "server is not configured")
	}
	attempt := &dialAttempt{done: make(chan struct{})}
	m.dialing[server] = attempt
	m.mu.Unlock()

	conn := NewConnection(ConnectionConfig{
		Descriptor:   desc,
		Dialer:       m.cfg.Dialer,
		QueueSize:    m.cfg.QueueSize,
		StartTimeout: m.cfg.StartTimeout,
		StopTimeout:  m.cfg.StopTimeout,
		Logger:       m.logger,
	})
	err := conn.Start(ctx)

	m.mu.Lock()
	delete(m.dialing, server)
	switch {
	case err != nil:
		m.lastErr[server] = err
	case m.closed:
		err = errNotRunning(server)
	default:
		m.conns[server] = conn
		delete(m.lastErr, server)
		activeConnections.Inc()
	}
	m.mu.Unlock()

	if err != nil {
		_ = conn.Stop()
		conn = nil
	}
	attempt.conn, attempt.err = conn, err
	close(attempt.done)
	return conn, err
}

// closeConnection removes conn from the table and stops it. A later request
// for the server reconnects.
func (m *Manager) closeConnection(server string, conn *Connection, reason error) {
	m.mu.Lock()
	if current, ok := m.conns[server]; ok && current == conn {
		delete(m.conns, server)
		activeConnections.Dec()
	}
	if reason != nil {
		m.lastErr[server] = reason
	}
	m.mu.Unlock()

	if err := conn.Stop(); err != nil {
		m.logger.Warn("failed to stop tool server", slog.String(log.ServerKey, server), log.Error(err))
	}
}

// discover lists the tools of one server. A failure closes the server's
// connection so the next access re-establishes it.
func (m *Manager) discover(ctx context.Context, server string) ([]ToolDescriptor, error) {
	ctx, span := m.tracer.Start(ctx, "mcp.discover", trace.WithAttributes(
		attribute.String("mcp.server", server),
	))
	defer span.End()

	conn, err := m.connection(ctx, server)
	if err != nil {
		recordDiscoveryError(server)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tools, err := conn.ListTools(ctx)
	if err != nil {
		recordDiscoveryError(server)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.closeConnection(server, conn, err)
		return nil, err
	}

	tools = m.filterExcluded(tools)
	span.SetAttributes(attribute.Int("mcp.tools", len(tools)))
	return tools, nil
}

func (m *Manager) filterExcluded(tools []ToolDescriptor) []ToolDescriptor {
	if len(m.cfg.ExcludeTools) == 0 {
		return tools
	}
	kept := tools[:0]
	for _, t := range tools {
		if m.excluded(t.Server, t.Name) {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func (m *Manager) excluded(server, tool string) bool {
	for _, p := range m.cfg.ExcludeTools {
		if ok, _ := doublestar.Match(p, server+"/"+tool); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, tool); ok {
			return true
		}
	}
	return false
}

// GetAllTools returns every tool across all servers. A valid cache is served
// directly; otherwise every server is rediscovered. Failing servers are
// omitted, never reported as an error.
func (m *Manager) GetAllTools(ctx context.Context) ([]ToolDescriptor, error) {
	if m.cache.IsValid() {
		return m.cache.Tools(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tools := m.cache.RefreshAll(ctx, m.order, m.discover)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tools, nil
}

// LLMTools returns all tools formatted for the LLM tools parameter.
func (m *Manager) LLMTools(ctx context.Context) ([]llm.Tool, error) {
	if m.cache.IsValid() {
		return m.cache.LLMTools(), nil
	}
	tools, err := m.GetAllTools(ctx)
	if err != nil {
		return nil, err
	}
	return LLMTools(tools), nil
}

// ExecuteTool routes a call to the server owning name and returns the text
// extracted from the result. A result the server flags as an error is still
// returned as text so the model can react to it.
func (m *Manager) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, span := m.tracer.Start(ctx, "mcp.execute_tool", trace.WithAttributes(
		attribute.String("mcp.tool", name),
	))
	defer span.End()

	server, conn, err := m.resolve(ctx, name)
	if err != nil {
		recordToolCall("", name, "not_found", 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("mcp.server", server))

	text, err := m.dispatch(ctx, server, conn, name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	return text, nil
}

// resolve finds the owning server for name: the cache first, verified
// against the connection's last discovery, then a linear search.
func (m *Manager) resolve(ctx context.Context, name string) (string, *Connection, error) {
	if server, ok := m.cache.Lookup(name); ok {
		if conn, owns := m.verifyOwner(ctx, server, name); owns {
			recordCacheLookup("hit")
			return server, conn, nil
		}
		recordCacheLookup("stale")
		m.cache.Invalidate(name)
	} else {
		recordCacheLookup("miss")
	}

	for _, server := range m.order {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		tools, err := m.discover(ctx, server)
		if err != nil {
			m.logger.Warn("skipping server during tool search",
				slog.String(log.ServerKey, server),
				slog.String(log.ToolKey, name),
				log.Error(err))
			continue
		}
		for _, t := range tools {
			if t.Name != name {
				continue
			}
			conn, err := m.connection(ctx, server)
			if err != nil {
				m.logger.Warn("tool owner disconnected during search",
					slog.String(log.ServerKey, server), log.Error(err))
				break
			}
			m.cache.Set(name, server)
			return server, conn, nil
		}
	}

	return "", nil, errToolNotFound(name)
}

// verifyOwner reports whether server still exposes name, connecting and
// rediscovering when the connection has no tool list yet.
func (m *Manager) verifyOwner(ctx context.Context, server, name string) (*Connection, bool) {
	if _, ok := m.servers[server]; !ok || m.excluded(server, name) {
		return nil, false
	}
	conn, err := m.connection(ctx, server)
	if err != nil {
		return nil, false
	}
	if has, known := conn.HasTool(name); known {
		return conn, has
	}
	tools, err := m.discover(ctx, server)
	if err != nil {
		return nil, false
	}
	for _, t := range tools {
		if t.Name == name {
			// discover may have replaced the connection.
			conn, err = m.connection(ctx, server)
			return conn, err == nil
		}
	}
	return nil, false
}

func (m *Manager) dispatch(ctx context.Context, server string, conn *Connection, name string, args map[string]any) (string, error) {
	logger := log.WithTool(m.logger, server, name)

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ToolTimeout)
	defer cancel()

	start := time.Now()
	res, err := conn.CallTool(callCtx, name, args)
	elapsed := time.Since(start)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			// The caller gave up mid-call; the channel state is unknown.
			m.closeConnection(server, conn, err)
			recordToolCall(server, name, "cancelled", elapsed)
			return "", ctx.Err()

		case errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil:
			terr := errTimeout(server, name, m.cfg.ToolTimeout)
			logger.Warn("tool call timed out, closing connection",
				slog.Duration("timeout", m.cfg.ToolTimeout))
			m.closeConnection(server, conn, terr)
			recordToolCall(server, name, "timeout", elapsed)
			return "", terr

		default:
			var mcpErr *MCPError
			if !errors.As(err, &mcpErr) {
				err = errExecution(server, name, err)
			}
			logger.Warn("tool call failed, closing connection", log.Error(err))
			m.closeConnection(server, conn, err)
			m.cache.Invalidate(name)
			recordToolCall(server, name, "error", elapsed)
			return "", err
		}
	}

	text := ExtractText(res)
	if res != nil && res.Failed() {
		logger.Warn("tool reported an error", slog.String("result", log.Truncate(text, 200)))
		recordToolCall(server, name, "tool_error", elapsed)
	} else {
		logger.Debug("tool call succeeded", slog.Int64(log.DurationKey, elapsed.Milliseconds()))
		recordToolCall(server, name, "success", elapsed)
	}
	return text, nil
}

// ServerStatus reports the state of every configured server.
func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerStatus, 0, len(m.order))
	for _, name := range m.order {
		st := ServerStatus{Name: name, State: "disconnected"}
		if conn, ok := m.conns[name]; ok {
			state := conn.State()
			st.State = state.String()
			st.Connected = state == StateReady
			st.ToolCount = len(m.filterExcluded(conn.KnownTools()))
			st.Pending = conn.Pending()
		} else if _, ok := m.dialing[name]; ok {
			st.State = StateConnecting.String()
		}
		if err := m.lastErr[name]; err != nil {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// CloseAll stops every live connection. Each stop is independent; one
// server failing to stop does not block the others. The manager cannot be
// used afterwards.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	conns := make(map[string]*Connection, len(m.conns))
	for name, conn := range m.conns {
		conns[name] = conn
	}
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for name, conn := range conns {
		wg.Add(1)
		go func(name string, conn *Connection) {
			defer wg.Done()
			defer activeConnections.Dec()
			if err := conn.Stop(); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
				errMu.Unlock()
			}
		}(name, conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errMu.Lock()
		errs = append(errs, fmt.Errorf("close all: %w", ctx.Err()))
		errMu.Unlock()
	}

	m.cache.Clear()
	m.logger.Info("tool server connections closed", slog.Int("count", len(conns)))

	errMu.Lock()
	defer errMu.Unlock()
	return errors.Join(errs...)
}
