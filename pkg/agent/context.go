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

package agent

import (
	"strings"

	"github.com/tombee/relay/pkg/llm"
)

// ContextManager estimates conversation size against a token window.
// The conversation itself belongs to the caller and is never pruned here.
type ContextManager struct {
	maxTokens int

	// warnThreshold is the token count past which usage is reported
	warnThreshold int
}

// NewContextManager creates a context manager for a window of maxTokens.
func NewContextManager(maxTokens int) *ContextManager {
	return &ContextManager{
		maxTokens:     maxTokens,
		warnThreshold: int(float64(maxTokens) * 0.8),
	}
}

// NearLimit reports whether messages use more than 80% of the window.
func (cm *ContextManager) NearLimit(messages []llm.Message) bool {
	return cm.EstimateTokens(messages) > cm.warnThreshold
}

// EstimateTokens estimates the total token count for a list of messages
// using a 4-characters-per-token heuristic.
func (cm *ContextManager) EstimateTokens(messages []llm.Message) int {
	total := 0
	for i := range messages {
		total += estimateMessageTokens(&messages[i])
	}
	return total
}

func estimateMessageTokens(msg *llm.Message) int {
	// Role and structure overhead
	tokens := len(msg.Content)/4 + 10

	for _, call := range msg.ToolCalls {
		tokens += len(call.Name)/4 + 20
		tokens += len(call.Arguments) / 4
	}
	return tokens
}

// TruncateContent cuts content to roughly maxTokens, preferring a word
// boundary, and marks the cut with an ellipsis. maxTokens <= 0 disables it.
func (cm *ContextManager) TruncateContent(content string, maxTokens int) string {
	if maxTokens <= 0 {
		return content
	}
	maxChars := maxTokens * 4
	if len(content) <= maxChars || maxChars <= 3 {
		return content
	}

	truncated := content[:maxChars-3]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

// ContextStats describes context usage.
type ContextStats struct {
	MessageCount    int
	EstimatedTokens int
	MaxTokens       int
	UtilizationPct  float64
}

// GetStats returns statistics about the context usage.
func (cm *ContextManager) GetStats(messages []llm.Message) ContextStats {
	estimated := cm.EstimateTokens(messages)
	var pct float64
	if cm.maxTokens > 0 {
		pct = float64(estimated) / float64(cm.maxTokens) * 100
	}
	return ContextStats{
		MessageCount:    len(messages),
		EstimatedTokens: estimated,
		MaxTokens:       cm.maxTokens,
		UtilizationPct:  pct,
	}
}
