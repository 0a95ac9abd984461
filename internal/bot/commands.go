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

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/mcp"
)

// IsCommand reports whether text is a slash command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// parseCommand splits "/model@relaybot gpt-4o" into ("model", "gpt-4o").
func parseCommand(text string) (name, args string) {
	text = strings.TrimSpace(text)
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// HandleCommand executes a slash command and returns the replies to send,
// in order. Text that is not a command yields no replies.
func (p *Processor) HandleCommand(ctx context.Context, chatID, text string) ([]string, error) {
	if !IsCommand(text) {
		return nil, nil
	}
	name, args := parseCommand(text)
	logger := log.WithChat(p.logger, chatID).With(slog.String("command", name))
	logger.Info("handling command", slog.String("args", log.Truncate(args, 100)))

	var (
		replies []string
		err     error
	)
	switch name {
	case "start", "help":
		replies = []string{helpText}
	case "tools":
		replies, err = p.listTools(ctx, logger, chatID)
	case "mcp":
		replies, err = p.toggleTools(ctx, chatID, args)
	case "clear", "new":
		replies, err = p.clearHistory(ctx, chatID)
	case "model":
		replies, err = p.setModel(ctx, chatID, args)
	case "prompt":
		replies, err = p.setPrompt(ctx, chatID, args)
	default:
		name = "unknown"
		replies = []string{fmt.Sprintf("Unknown command: %s\nSend /help for a list of commands.", strings.Fields(text)[0])}
	}
	commandsTotal.WithLabelValues(name).Inc()
	if err != nil {
		logger.Error("command failed", log.Error(err))
		return nil, err
	}
	return replies, nil
}

const helpText = `Available commands:
/tools - list available tools
/mcp on|off - enable or disable tools for this chat
/clear - clear the chat history
/model [name] - show or change the model
/prompt [text|reset] - show, set or reset the system prompt
/help - show this message`

func (p *Processor) toolsConfigured() bool {
	return p.opts.Tools != nil && p.opts.Tools.IsConfigured()
}

func (p *Processor) listTools(ctx context.Context, logger *slog.Logger, chatID string) ([]string, error) {
	if !p.toolsConfigured() {
		return []string{"Tools are not enabled."}, nil
	}
	tools, err := p.opts.Tools.GetAllTools(ctx)
	if err != nil {
		logger.Error("failed to list tools", log.Error(err))
		return []string{"Error listing tools."}, nil
	}
	if len(tools) == 0 {
		return []string{"No tools available."}, nil
	}

	enabled, err := p.opts.Settings.MCPEnabled(ctx, chatID)
	if err != nil {
		return nil, err
	}
	status := "disabled"
	if enabled {
		status = "enabled"
	}

	sections := toolSections(tools)
	const header = "*Available tools:*\n\n"

	var full strings.Builder
	full.WriteString(header)
	for _, s := range sections {
		full.WriteString(s)
	}
	fmt.Fprintf(&full, "Tools for this chat: %s\n", status)
	full.WriteString("Use /mcp on or /mcp off to toggle.\n")
	fmt.Fprintf(&full, "\nTotal: %d tools available.", len(tools))

	limit := p.opts.Bot.MessageLimit
	if limit <= 0 || full.Len() <= limit {
		return []string{full.String()}, nil
	}

	// Too long for one message: pack whole server sections, splitting a
	// section by line only when it cannot fit on its own.
	splitLimit := p.opts.Bot.SplitLimit
	if splitLimit <= 0 || splitLimit > limit {
		splitLimit = limit
	}
	var messages []string
	current := header
	for _, s := range sections {
		if current != "" && len(current)+len(s) > splitLimit {
			messages = append(messages, current)
			current = ""
		}
		if len(s) > splitLimit {
			pieces := SplitMessage(s, splitLimit)
			messages = append(messages, pieces[:len(pieces)-1]...)
			s = pieces[len(pieces)-1]
		}
		current += s
	}
	footer := fmt.Sprintf("\nTools: %s\nTotal: %d tools", status, len(tools))
	if current != "" && len(current)+len(footer) > limit {
		messages = append(messages, current)
		current = ""
	}
	messages = append(messages, current+footer)
	return messages, nil
}

// toolSections renders one block per server, servers sorted by name.
func toolSections(tools []mcp.ToolDescriptor) []string {
	grouped := mcp.GroupByServer(tools)
	servers := make([]string, 0, len(grouped))
	for server := range grouped {
		servers = append(servers, server)
	}
	sort.Strings(servers)

	sections := make([]string, 0, len(servers))
	for _, server := range servers {
		var b strings.Builder
		fmt.Fprintf(&b, "*%s* (%d tools)\n", server, len(grouped[server]))
		for _, t := range grouped[server] {
			fmt.Fprintf(&b, "  - `%s`\n", t.Name)
		}
		b.WriteString("\n")
		sections = append(sections, b.String())
	}
	return sections
}

func (p *Processor) toggleTools(ctx context.Context, chatID, args string) ([]string, error) {
	if !p.toolsConfigured() {
		return []string{"Tools are not available."}, nil
	}
	switch strings.ToLower(args) {
	case "on":
		if err := p.opts.Settings.SetMCPEnabled(ctx, chatID, true); err != nil {
			return nil, err
		}
		return []string{"Tools enabled."}, nil
	case "off":
		if err := p.opts.Settings.SetMCPEnabled(ctx, chatID, false); err != nil {
			return nil, err
		}
		return []string{"Tools disabled."}, nil
	}

	enabled, err := p.opts.Settings.MCPEnabled(ctx, chatID)
	if err != nil {
		return nil, err
	}
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	return []string{fmt.Sprintf("*Tools:* %s\n\n/mcp on - enable tools\n/mcp off - disable tools\n/tools - list available tools", status)}, nil
}

func (p *Processor) clearHistory(ctx context.Context, chatID string) ([]string, error) {
	if err := p.opts.History.Clear(ctx, chatID); err != nil {
		return nil, err
	}
	return []string{"Chat history cleared."}, nil
}

func (p *Processor) setModel(ctx context.Context, chatID, args string) ([]string, error) {
	if args == "" {
		current, err := p.opts.Settings.Model(ctx, chatID)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("Current model: `%s`\n\nUsage: /model <name>", current)}, nil
	}

	if p.opts.Models != nil {
		known := false
		for _, models := range p.opts.Models.ListModels(ctx) {
			if slices.Contains(models, args) {
				known = true
				break
			}
		}
		if !known {
			return []string{fmt.Sprintf("Model `%s` not found.", args)}, nil
		}
	}

	if err := p.opts.Settings.SetModel(ctx, chatID, args); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Model changed to: `%s`", args)}, nil
}

func (p *Processor) setPrompt(ctx context.Context, chatID, args string) ([]string, error) {
	switch {
	case args == "":
		prompt, custom, err := p.opts.Settings.SystemPrompt(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if !custom {
			return []string{"Current system prompt (default):\n\n" + p.opts.Bot.SystemPrompt}, nil
		}
		return []string{"Current system prompt (custom):\n\n" + prompt}, nil
	case strings.EqualFold(args, "reset"):
		reset, err := p.opts.Settings.ResetSystemPrompt(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if !reset {
			return []string{"System prompt is already the default."}, nil
		}
		return []string{"System prompt reset to default."}, nil
	default:
		if err := p.opts.Settings.SetSystemPrompt(ctx, chatID, args); err != nil {
			return nil, err
		}
		return []string{"System prompt updated."}, nil
	}
}
