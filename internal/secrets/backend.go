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

// Package secrets keeps the LLM API key out of the config file.
//
// Lookups try RELAY_SECRET_* environment variables before the OS keychain.
// Writes go to the keychain.
package secrets

import (
	"context"
	"errors"
)

// APIKeyName is the secret key holding the LLM API key.
const APIKeyName = "llm_api_key"

var (
	ErrSecretNotFound     = errors.New("secret not found")
	ErrBackendUnavailable = errors.New("secret backend unavailable")
	ErrReadOnlyBackend    = errors.New("secret backend is read-only")
)

// Backend is one place secrets can live. Read-only backends return
// ErrReadOnlyBackend from Set and Delete.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// prober is implemented by backends that may be unusable on this host.
type prober interface {
	Available() bool
}

func usable(b Backend) bool {
	p, ok := b.(prober)
	return !ok || p.Available()
}
