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
)

// Settings is the per-chat preferences document.
type Settings struct {
	Model        string  `json:"model,omitempty"`
	MCPEnabled   *bool   `json:"mcp_enabled,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

// SettingsStore persists per-chat settings under {chatID}_settings.json.
type SettingsStore struct {
	blobs        BlobStore
	defaultModel string
}

// NewSettingsStore creates a settings store. defaultModel is returned by
// Model for chats that never chose one.
func NewSettingsStore(blobs BlobStore, defaultModel string) *SettingsStore {
	return &SettingsStore{blobs: blobs, defaultModel: defaultModel}
}

func settingsKey(chatID string) string {
	return chatID + "_settings.json"
}

// Get returns the raw settings for chatID; missing settings are empty.
func (s *SettingsStore) Get(ctx context.Context, chatID string) (Settings, error) {
	var settings Settings
	data, err := s.blobs.Get(ctx, settingsKey(chatID))
	if errors.Is(err, ErrNotFound) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("failed to load settings for chat %s: %w", chatID, err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("corrupt settings for chat %s: %w", chatID, err)
	}
	return settings, nil
}

func (s *SettingsStore) update(ctx context.Context, chatID string, fn func(*Settings)) error {
	settings, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	fn(&settings)
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.blobs.Put(ctx, settingsKey(chatID), data); err != nil {
		return fmt.Errorf("failed to save settings for chat %s: %w", chatID, err)
	}
	return nil
}

// Model returns the chat's model, or the default.
func (s *SettingsStore) Model(ctx context.Context, chatID string) (string, error) {
	settings, err := s.Get(ctx, chatID)
	if err != nil {
		return "", err
	}
	if settings.Model == "" {
		return s.defaultModel, nil
	}
	return settings.Model, nil
}

func (s *SettingsStore) SetModel(ctx context.Context, chatID, model string) error {
	return s.update(ctx, chatID, func(st *Settings) { st.Model = model })
}

// MCPEnabled reports whether tools are enabled for the chat. Defaults to true.
func (s *SettingsStore) MCPEnabled(ctx context.Context, chatID string) (bool, error) {
	settings, err := s.Get(ctx, chatID)
	if err != nil {
		return false, err
	}
	if settings.MCPEnabled == nil {
		return true, nil
	}
	return *settings.MCPEnabled, nil
}

func (s *SettingsStore) SetMCPEnabled(ctx context.Context, chatID string, enabled bool) error {
	return s.update(ctx, chatID, func(st *Settings) { st.MCPEnabled = &enabled })
}

// SystemPrompt returns the chat's prompt override and whether one is set.
func (s *SettingsStore) SystemPrompt(ctx context.Context, chatID string) (string, bool, error) {
	settings, err := s.Get(ctx, chatID)
	if err != nil {
		return "", false, err
	}
	if settings.SystemPrompt == nil {
		return "", false, nil
	}
	return *settings.SystemPrompt, true, nil
}

func (s *SettingsStore) SetSystemPrompt(ctx context.Context, chatID, prompt string) error {
	return s.update(ctx, chatID, func(st *Settings) { st.SystemPrompt = &prompt })
}

// ResetSystemPrompt removes the override. It reports whether one was set.
func (s *SettingsStore) ResetSystemPrompt(ctx context.Context, chatID string) (bool, error) {
	settings, err := s.Get(ctx, chatID)
	if err != nil {
		return false, err
	}
	if settings.SystemPrompt == nil {
		return false, nil
	}
	return true, s.update(ctx, chatID, func(st *Settings) { st.SystemPrompt = nil })
}
