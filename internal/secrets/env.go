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
	"fmt"
	"os"
	"strings"
)

var envKeyReplacer = strings.NewReplacer("/", "_", "-", "_", ".", "_")

// EnvBackend serves secrets from RELAY_SECRET_<KEY> variables.
type EnvBackend struct {
	lookup func(string) (string, bool)
}

// NewEnvBackend reads the process environment.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{lookup: os.LookupEnv}
}

func (*EnvBackend) Name() string { return "env" }

func (e *EnvBackend) Get(_ context.Context, key string) (string, error) {
	name := EnvVarName(key)
	if v, ok := e.lookup(name); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s is not set", ErrSecretNotFound, name)
}

func (*EnvBackend) Set(context.Context, string, string) error { return ErrReadOnlyBackend }

func (*EnvBackend) Delete(context.Context, string) error { return ErrReadOnlyBackend }

// EnvVarName maps a secret key such as "llm_api_key" to the variable
// RELAY_SECRET_LLM_API_KEY.
func EnvVarName(key string) string {
	return "RELAY_SECRET_" + strings.ToUpper(envKeyReplacer.Replace(key))
}
