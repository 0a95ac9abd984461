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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerNameRegex validates tool server names.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// serverFile is the on-disk shape shared by mcp.json and mcp.yaml.
type serverFile struct {
	Servers map[string]serverEntry `json:"mcpServers" yaml:"mcpServers"`
}

type serverEntry struct {
	Command   string            `json:"command" yaml:"command"`
	Args      []string          `json:"args" yaml:"args"`
	Env       map[string]string `json:"env" yaml:"env"`
	Transport string            `json:"transport" yaml:"transport"`

	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled" yaml:"enabled"`
}

// LoadServers reads enabled server descriptors from path, sorted by name.
// A missing file is not an error and yields no servers. Files ending in
// .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadServers(path string) ([]ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read server config %s: %w", path, err)
	}
	return ParseServers(data, filepath.Ext(path))
}

// ParseServers decodes a server file. ext selects the format (".yaml",
// ".yml", or anything else for JSON).
func ParseServers(data []byte, ext string) ([]ServerDescriptor, error) {
	var file serverFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse server config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse server config: %w", err)
		}
	}

	servers := make([]ServerDescriptor, 0, len(file.Servers))
	for name, entry := range file.Servers {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		desc := ServerDescriptor{
			Name:      name,
			Transport: TransportKind(entry.Transport),
			Command:   entry.Command,
			Args:      entry.Args,
			Env:       expandEnv(entry.Env),
			Enabled:   true,
		}
		if desc.Transport == "" {
			desc.Transport = TransportStdio
		}
		if err := ValidateDescriptor(desc); err != nil {
			return nil, err
		}
		servers = append(servers, desc)
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// ValidateDescriptor checks a descriptor is launchable.
func ValidateDescriptor(d ServerDescriptor) error {
	if !ServerNameRegex.MatchString(d.Name) {
		return errConfig(d.Name, "server name must contain only letters, digits, '-' and '_'")
	}
	if d.Command == "" {
		return errConfig(d.Name, "command is required")
	}
	if d.Transport != TransportStdio {
		return errConfig(d.Name, fmt.Sprintf("unsupported transport %q (only stdio is supported)", d.Transport))
	}
	return nil
}

// expandEnv resolves ${VAR} references against the process environment.
func expandEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
