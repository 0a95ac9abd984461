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

// Config configures tool loop limits.
type Config struct {
	// MaxIterations caps tool-call/resubmission rounds.
	// Default: 5
	MaxIterations int

	// MaxToolResultTokens truncates tool output before it is appended to the
	// conversation. Zero keeps results whole.
	MaxToolResultTokens int

	// ContextWindow is the token budget used for context usage warnings.
	// Default: 128000
	ContextWindow int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 5,
		ContextWindow: 128000,
	}
}

// WithDefaults fills in missing config values with defaults.
func (c Config) WithDefaults() Config {
	result := c
	if result.MaxIterations <= 0 {
		result.MaxIterations = 5
	}
	if result.ContextWindow <= 0 {
		result.ContextWindow = 128000
	}
	if result.MaxToolResultTokens < 0 {
		result.MaxToolResultTokens = 0
	}
	return result
}
