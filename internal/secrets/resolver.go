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

package secrets

import (
	"context"
	"errors"
	"fmt"
)

// Resolver queries backends in the order given.
type Resolver struct {
	backends []Backend
}

// NewResolver creates a resolver over the available backends.
func NewResolver(backends ...Backend) *Resolver {
	available := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if usable(b) {
			available = append(available, b)
		}
	}
	return &Resolver{backends: available}
}

// Default resolves from RELAY_SECRET_* variables, then the OS keychain.
func Default() *Resolver {
	return NewResolver(NewEnvBackend(), NewKeychainBackend())
}

// Get returns the first value found.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if len(r.backends) == 0 {
		return "", fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	var lastErr error
	for _, backend := range r.backends {
		value, err := backend.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", key, lastErr)
	}
	return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

// Set stores the secret in the first writable backend and returns its name.
func (r *Resolver) Set(ctx context.Context, key, value string) (string, error) {
	for _, backend := range r.backends {
		err := backend.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnlyBackend) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to set secret in %s: %w", backend.Name(), err)
		}
		return backend.Name(), nil
	}
	return "", fmt.Errorf("%w: no writable backend available", ErrBackendUnavailable)
}

// Delete removes the secret from every writable backend holding it.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, backend := range r.backends {
		err := backend.Delete(ctx, key)
		if errors.Is(err, ErrSecretNotFound) || errors.Is(err, ErrReadOnlyBackend) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to delete secret from %s: %w", backend.Name(), err)
		}
		deleted = true
	}
	if !deleted {
		return fmt.Errorf("%w: %q", ErrSecretNotFound, key)
	}
	return nil
}

// ResolveAPIKey returns configured when set, otherwise the stored LLM API key.
func (r *Resolver) ResolveAPIKey(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	key, err := r.Get(ctx, APIKeyName)
	if err != nil {
		return "", fmt.Errorf("no LLM API key configured (set RELAY_LLM_API_KEY or run 'relay secrets set-key'): %w", err)
	}
	return key, nil
}
