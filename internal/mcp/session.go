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
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ClientName and ClientVersion identify relay during the handshake.
var (
	ClientName    = "relay"
	ClientVersion = "dev"
)

// Session is one initialized protocol session with a tool server.
// Implementations are not required to be safe for concurrent use; a
// Connection only ever touches its session from one goroutine.
type Session interface {
	// ListTools runs discovery. Returned descriptors have Server unset.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool invokes a tool.
	CallTool(ctx context.Context, name string, args map[string]any) (Result, error)

	// Close ends the session and releases the subprocess.
	Close() error
}

// Dialer opens a Session. ctx bounds the session lifetime: cancelling it
// must tear down the underlying transport.
type Dialer interface {
	Dial(ctx context.Context, desc ServerDescriptor) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, desc ServerDescriptor) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, desc ServerDescriptor) (Session, error) {
	return f(ctx, desc)
}

// StdioDialer launches servers as subprocesses using mcp-go.
type StdioDialer struct{}

// Dial starts the subprocess and performs the initialize handshake.
func (StdioDialer) Dial(ctx context.Context, desc ServerDescriptor) (Session, error) {
	if desc.Transport != "" && desc.Transport != TransportStdio {
		return nil, errConfig(desc.Name, fmt.Sprintf("unsupported transport %q", desc.Transport))
	}

	c := client.NewClient(transport.NewStdio(desc.Command, desc.Environ(), desc.Args...))

	// The transport binds the subprocess to ctx, so the session dies with it.
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start server process: %w", err)
	}
	return initialize(ctx, c)
}

// NewInProcessSession connects to an mcp-go server running in this process.
// Used for built-in tools and tests.
func NewInProcessSession(ctx context.Context, srv *server.MCPServer) (Session, error) {
	c, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start in-process client: %w", err)
	}
	return initialize(ctx, c)
}

// InProcessDialer serves every descriptor name found in Servers from an
// in-process mcp-go server.
type InProcessDialer struct {
	Servers map[string]*server.MCPServer
}

// Dial connects to the named in-process server.
func (d InProcessDialer) Dial(ctx context.Context, desc ServerDescriptor) (Session, error) {
	srv, ok := d.Servers[desc.Name]
	if !ok {
		return nil, fmt.Errorf("no in-process server named %q", desc.Name)
	}
	return NewInProcessSession(ctx, srv)
}

func initialize(ctx context.Context, c *client.Client) (Session, error) {
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    ClientName,
				Version: ClientVersion,
			},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize request failed: %w", err)
	}
	return &clientSession{client: c}, nil
}

// clientSession adapts an mcp-go client to Session.
type clientSession struct {
	client *client.Client
}

func (s *clientSession) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var (
		tools []ToolDescriptor
		req   mcp.ListToolsRequest
	)
	for {
		res, err := s.client.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		for _, t := range res.Tools {
			schema, err := toolSchema(t)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", t.Name, err)
			}
			tools = append(tools, ToolDescriptor{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			})
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

func (s *clientSession) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	return resultFromCallTool(res), nil
}

func (s *clientSession) Close() error {
	return s.client.Close()
}

// toolSchema returns the tool's input schema as raw JSON.
func toolSchema(t mcp.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	data, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input schema: %w", err)
	}
	return data, nil
}
