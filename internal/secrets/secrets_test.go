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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestEnvBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewEnvBackend()

	_, err := backend.Get(ctx, APIKeyName)
	require.ErrorIs(t, err, ErrSecretNotFound)

	t.Setenv("RELAY_SECRET_LLM_API_KEY", "sk-env")
	value, err := backend.Get(ctx, APIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", value)

	assert.ErrorIs(t, backend.Set(ctx, APIKeyName, "x"), ErrReadOnlyBackend)
	assert.ErrorIs(t, backend.Delete(ctx, APIKeyName), ErrReadOnlyBackend)
	assert.Equal(t, "RELAY_SECRET_S3_ACCESS_KEY", EnvVarName("s3/access-key"))
}

func TestEnvBackend_EmptyValue(t *testing.T) {
	backend := &EnvBackend{lookup: func(string) (string, bool) { return "", true }}
	_, err := backend.Get(context.Background(), APIKeyName)
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestLooksUnavailable(t *testing.T) {
	assert.True(t, looksUnavailable(errors.New("The keychain is LOCKED")))
	assert.True(t, looksUnavailable(errors.New("org.freedesktop.DBus.Error.ServiceUnknown")))
	assert.False(t, looksUnavailable(errors.New("item already exists")))
}

func TestKeychainBackend(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	backend := NewKeychainBackend()
	require.True(t, backend.Available())

	_, err := backend.Get(ctx, APIKeyName)
	require.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, backend.Set(ctx, APIKeyName, "sk-keychain"))
	value, err := backend.Get(ctx, APIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "sk-keychain", value)

	require.NoError(t, backend.Delete(ctx, APIKeyName))
	assert.ErrorIs(t, backend.Delete(ctx, APIKeyName), ErrSecretNotFound)
}

func TestKeychainBackend_Unavailable(t *testing.T) {
	backend := &KeychainBackend{available: false}
	_, err := backend.Get(context.Background(), APIKeyName)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestResolver(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	resolver := NewResolver(NewEnvBackend(), NewKeychainBackend())

	_, err := resolver.Get(ctx, APIKeyName)
	require.ErrorIs(t, err, ErrSecretNotFound)

	name, err := resolver.Set(ctx, APIKeyName, "sk-stored")
	require.NoError(t, err)
	assert.Equal(t, "keychain", name, "env is skipped as read-only")

	value, err := resolver.Get(ctx, APIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", value)

	t.Setenv("RELAY_SECRET_LLM_API_KEY", "sk-env")
	value, err = resolver.Get(ctx, APIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", value, "environment wins")

	require.NoError(t, resolver.Delete(ctx, APIKeyName))
	assert.ErrorIs(t, resolver.Delete(ctx, APIKeyName), ErrSecretNotFound)
}

func TestResolver_NoBackends(t *testing.T) {
	resolver := NewResolver(&KeychainBackend{available: false})
	_, err := resolver.Get(context.Background(), APIKeyName)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	_, err = resolver.Set(context.Background(), APIKeyName, "x")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestResolveAPIKey(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	resolver := NewResolver(NewKeychainBackend())

	key, err := resolver.ResolveAPIKey(ctx, "sk-config")
	require.NoError(t, err)
	assert.Equal(t, "sk-config", key)

	_, err = resolver.ResolveAPIKey(ctx, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay secrets set-key")

	_, err = resolver.Set(ctx, APIKeyName, "sk-stored")
	require.NoError(t, err)
	key, err = resolver.ResolveAPIKey(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", key)
}
