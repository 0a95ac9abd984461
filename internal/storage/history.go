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

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tombee/relay/pkg/llm"
)

// historyEntry is the stored form of one message. Only role and text are
// persisted; tool traffic lives in the per-turn conversation.
type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryStore persists the text-only chat history under {chatID}.json.
type HistoryStore struct {
	blobs BlobStore
}

// NewHistoryStore creates a history store over blobs.
func NewHistoryStore(blobs BlobStore) *HistoryStore {
	return &HistoryStore{blobs: blobs}
}

func historyKey(chatID string) string {
	return chatID + ".json"
}

// Load returns the stored history for chatID. A chat with no history yields
// an empty, non-nil slice.
func (s *HistoryStore) Load(ctx context.Context, chatID string) ([]llm.Message, error) {
	data, err := s.blobs.Get(ctx, historyKey(chatID))
	if errors.Is(err, ErrNotFound) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for chat %s: %w", chatID, err)
	}

	var entries []historyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt history for chat %s: %w", chatID, err)
	}
	messages := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, llm.Message{Role: llm.MessageRole(e.Role), Content: e.Content})
	}
	return messages, nil
}

// Save replaces the stored history for chatID. Tool calls and tool results
// are dropped.
func (s *HistoryStore) Save(ctx context.Context, chatID string, messages []llm.Message) error {
	entries := make([]historyEntry, 0, len(messages))
	for _, m := range messages {
		if m.Role == llm.MessageRoleTool || m.Role == llm.MessageRoleSystem {
			continue
		}
		entries = append(entries, historyEntry{Role: string(m.Role), Content: m.Content})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := s.blobs.Put(ctx, historyKey(chatID), data); err != nil {
		return fmt.Errorf("failed to save history for chat %s: %w", chatID, err)
	}
	return nil
}

// Clear empties the history for chatID.
func (s *HistoryStore) Clear(ctx context.Context, chatID string) error {
	if err := s.blobs.Put(ctx, historyKey(chatID), []byte("[]")); err != nil {
		return fmt.Errorf("failed to clear history for chat %s: %w", chatID, err)
	}
	return nil
}
