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
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keychainService = "relay"
	probeKey        = "__relay_probe__"
)

// Fragments of the errors macOS Keychain, Secret Service and Windows
// Credential Manager return when the store exists but cannot be used.
var unavailableHints = []string{
	"locked",
	"cannot access",
	"permission denied",
	"failed to unlock",
	"user interaction required",
	"user canceled",
	"secret service",
	"dbus",
}

// KeychainBackend stores secrets under the "relay" service in the OS
// keyring via go-keyring.
type KeychainBackend struct {
	service   string
	available bool
}

// NewKeychainBackend probes the keyring once. A host without a keyring
// yields a backend whose Available reports false.
func NewKeychainBackend() *KeychainBackend {
	k := &KeychainBackend{service: keychainService}
	_, err := keyring.Get(k.service, probeKey)
	k.available = err == nil || errors.Is(err, keyring.ErrNotFound)
	return k
}

func (*KeychainBackend) Name() string { return "keychain" }

// Available reports whether the probe reached a keyring.
func (k *KeychainBackend) Available() bool { return k.available }

func (k *KeychainBackend) Get(_ context.Context, key string) (value string, err error) {
	err = k.do(key, func() (err error) {
		value, err = keyring.Get(k.service, key)
		return err
	})
	return value, err
}

func (k *KeychainBackend) Set(_ context.Context, key, value string) error {
	return k.do(key, func() error { return keyring.Set(k.service, key, value) })
}

func (k *KeychainBackend) Delete(_ context.Context, key string) error {
	return k.do(key, func() error { return keyring.Delete(k.service, key) })
}

// do runs op and maps keyring errors onto the package sentinels.
func (k *KeychainBackend) do(key string, op func() error) error {
	if !k.available {
		return fmt.Errorf("%w: no keyring on this host", ErrBackendUnavailable)
	}
	err := op()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	case looksUnavailable(err):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	default:
		return fmt.Errorf("keychain %s: %w", key, err)
	}
}

func looksUnavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range unavailableHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
