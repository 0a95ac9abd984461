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

package log

import (
	"log/slog"
	"strings"
	"sync"
)

// RedactedValue replaces known secrets in log output.
const RedactedValue = "***"

// minSecretLen keeps short values like "1" or "on" from being scrubbed out
// of every log line.
const minSecretLen = 6

var secretSuffixes = []string{"_TOKEN", "_SECRET", "_KEY", "_PASSWORD", "_PASS", "_PWD"}

// Redactor scrubs registered secret values from log attributes. It is safe
// for concurrent use and secrets may be added after the logger is built.
type Redactor struct {
	mu      sync.RWMutex
	secrets map[string]struct{}
}

// NewRedactor creates an empty Redactor.
func NewRedactor() *Redactor {
	return &Redactor{secrets: make(map[string]struct{})}
}

// AddSecret registers a value to be masked.
func (r *Redactor) AddSecret(value string) {
	if len(value) < minSecretLen {
		return
	}
	r.mu.Lock()
	r.secrets[value] = struct{}{}
	r.mu.Unlock()
}

// AddSecretsFromEnv registers the values of KEY=VALUE entries whose key ends
// in a secret-looking suffix such as _TOKEN or _API_KEY.
func (r *Redactor) AddSecretsFromEnv(environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !isSecretKey(key) {
			continue
		}
		r.AddSecret(value)
	}
}

func isSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// Mask replaces every registered secret in s.
func (r *Redactor) Mask(s string) string {
	if r == nil || s == "" {
		return s
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for secret := range r.secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, RedactedValue)
		}
	}
	return s
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook that masks string
// and error attribute values.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if masked := r.Mask(a.Value.String()); masked != a.Value.String() {
			a.Value = slog.StringValue(masked)
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			msg := err.Error()
			if masked := r.Mask(msg); masked != msg {
				a.Value = slog.StringValue(masked)
			}
		}
	}
	return a
}
