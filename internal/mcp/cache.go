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
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/pkg/llm"
)

// DiscoverFunc lists the tools of one server. Implementations own any
// failure handling for that server (closing its connection, for instance).
type DiscoverFunc func(ctx context.Context, server string) ([]ToolDescriptor, error)

// ToolCache maps tool names to owning servers and keeps the last full tool
// list. It is valid only while non-empty and younger than its TTL.
type ToolCache struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu          sync.RWMutex
	owners      map[string]string
	tools       []ToolDescriptor
	llmTools    []llm.Tool
	lastRefresh time.Time
}

// NewToolCache creates an empty cache. A nil now uses time.Now.
func NewToolCache(ttl time.Duration, now func() time.Time, logger *slog.Logger) *ToolCache {
	if now == nil {
		now = time.Now
	}
	return &ToolCache{
		ttl:    ttl,
		now:    now,
		logger: log.OrDefault(logger),
		owners: make(map[string]string),
	}
}

// IsValid reports whether the cache is non-empty and within its TTL.
func (c *ToolCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validLocked()
}

func (c *ToolCache) validLocked() bool {
	if len(c.owners) == 0 {
		return false
	}
	return c.now().Sub(c.lastRefresh) < c.ttl
}

// Lookup returns the server owning name. ok is false when the cache is
// invalid or the tool is unknown; the caller must then search.
func (c *ToolCache) Lookup(name string) (server string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.validLocked() {
		return "", false
	}
	server, ok = c.owners[name]
	return server, ok
}

// Set records that server owns name. Last writer wins.
func (c *ToolCache) Set(name, server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[name] = server
}

// Invalidate drops a single tool mapping.
func (c *ToolCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.owners, name)
}

// Clear empties the cache.
func (c *ToolCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners = make(map[string]string)
	c.tools = nil
	c.llmTools = nil
	c.lastRefresh = time.Time{}
}

// Tools returns the last refreshed tool list.
func (c *ToolCache) Tools() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// LLMTools returns the last refreshed tool list formatted for the LLM API.
func (c *ToolCache) LLMTools() []llm.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]llm.Tool, len(c.llmTools))
	copy(out, c.llmTools)
	return out
}

// RefreshAll discovers tools on every server, skipping servers whose
// discovery fails, then rebuilds the cache and stamps the refresh time.
// When two servers expose the same tool name the first server wins.
func (c *ToolCache) RefreshAll(ctx context.Context, servers []string, discover DiscoverFunc) []ToolDescriptor {
	owners := make(map[string]string)
	var tools []ToolDescriptor

	for _, server := range servers {
		if ctx.Err() != nil {
			// Keep the previous cache rather than stamping a partial one.
			return tools
		}
		found, err := discover(ctx, server)
		if err != nil {
			c.logger.Warn("tool discovery failed, skipping server",
				slog.String(log.ServerKey, server), log.Error(err))
			continue
		}
		for _, t := range found {
			if prev, dup := owners[t.Name]; dup {
				c.logger.Warn("duplicate tool name, keeping first server",
					slog.String(log.ToolKey, t.Name),
					slog.String("kept", prev),
					slog.String("ignored", server))
				continue
			}
			owners[t.Name] = server
			tools = append(tools, t)
		}
	}

	c.mu.Lock()
	c.owners = owners
	c.tools = tools
	c.llmTools = LLMTools(tools)
	c.lastRefresh = c.now()
	c.mu.Unlock()

	c.logger.Debug("tool cache refreshed",
		slog.Int("servers", len(servers)),
		slog.Int("tools", len(tools)))

	out := make([]ToolDescriptor, len(tools))
	copy(out, tools)
	return out
}
