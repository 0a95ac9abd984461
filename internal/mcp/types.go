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
	"encoding/json"
	"os"
	"sort"

	"github.com/tombee/relay/pkg/llm"
)

// TransportKind names how a tool server is reached.
type TransportKind string

// TransportStdio launches the server as a subprocess and speaks over its
// stdin/stdout. It is the only supported transport.
const TransportStdio TransportKind = "stdio"

// ServerDescriptor is the static configuration for one tool server.
// Descriptors are immutable once loaded.
type ServerDescriptor struct {
	// Name uniquely identifies the server.
	Name string `json:"name" yaml:"name"`

	Transport TransportKind `json:"transport" yaml:"transport"`

	// Command is the executable to launch.
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env is added to the parent environment of the subprocess.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Environ returns the subprocess environment: the parent environment plus
// Env, in KEY=VALUE form with Env keys sorted.
func (d ServerDescriptor) Environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+d.Env[k])
	}
	return env
}

// ToolDescriptor describes one tool exposed by a server.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Parameters is the JSON Schema for the tool arguments, passed through
	// to the LLM API untouched.
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Server is the name of the owning server.
	Server string `json:"server"`
}

// LLMTool formats the descriptor for the LLM function-calling API.
func (t ToolDescriptor) LLMTool() llm.Tool {
	return llm.Tool{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// LLMTools formats a tool list for the LLM function-calling API.
func LLMTools(tools []ToolDescriptor) []llm.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]llm.Tool, len(tools))
	for i, t := range tools {
		out[i] = t.LLMTool()
	}
	return out
}

// GroupByServer returns tools keyed by owning server, each list sorted by name.
func GroupByServer(tools []ToolDescriptor) map[string][]ToolDescriptor {
	grouped := make(map[string][]ToolDescriptor)
	for _, t := range tools {
		grouped[t.Server] = append(grouped[t.Server], t)
	}
	for server := range grouped {
		list := grouped[server]
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return grouped
}

// ServerStatus is a point-in-time view of one configured server.
type ServerStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	ToolCount int    `json:"tool_count"`
	Pending   int    `json:"pending"`
	LastError string `json:"last_error,omitempty"`
}
