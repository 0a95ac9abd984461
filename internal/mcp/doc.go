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

/*
Package mcp manages connections to Model Context Protocol tool servers and
routes tool calls requested by the LLM to the server that owns them.

# Overview

The package is built from four pieces:

  - Connection: owns one server subprocess and its protocol session. A single
    goroutine performs all protocol I/O; callers submit work through a bounded
    queue and wait for the reply.
  - ToolCache: maps tool name to owning server with a TTL, and keeps the last
    discovered tool list for the LLM tools parameter.
  - Manager: lazily creates connections, discovers tools across every
    configured server, and dispatches tool calls with a timeout.
  - Result: the tagged union returned by a tool call, with ExtractText
    producing the text handed back to the model.

# Usage

	servers, err := mcp.LoadServers("mcp.json")
	mgr, err := mcp.NewManager(mcp.ManagerConfig{
	    Servers:     servers,
	    ToolTimeout: 30 * time.Second,
	    CacheTTL:    5 * time.Minute,
	    Logger:      logger,
	})
	defer mgr.CloseAll(context.Background())

	tools, err := mgr.GetAllTools(ctx)
	text, err := mgr.ExecuteTool(ctx, "lookup", map[string]any{"q": "x"})

# Failure handling

A failing server never prevents use of the others. Discovery failures are
logged and the server's tools are omitted. A tool call that times out or
fails tears down the owning connection; the next request for that server
reconnects. Failed tools are evicted from the cache so they are rediscovered
rather than repeatedly mis-routed.
*/
package mcp
