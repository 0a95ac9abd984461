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

package shared

import (
	"os"

	"golang.org/x/term"
)

// ciMarkers maps CI environment variables to a check on their value.
var ciMarkers = map[string]func(string) bool{
	"CI":             isTruthy,
	"GITHUB_ACTIONS": isTruthy,
	"GITLAB_CI":      isTruthy,
	"CIRCLECI":       isTruthy,
	"JENKINS_HOME":   func(v string) bool { return v != "" },
}

func isTruthy(v string) bool { return v == "true" || v == "1" }

// IsNonInteractive reports whether prompts must be avoided: when
// RELAY_NON_INTERACTIVE=true, under CI, or when stdin is not a terminal.
func IsNonInteractive() bool {
	if os.Getenv("RELAY_NON_INTERACTIVE") == "true" || isCIEnvironment() {
		return true
	}
	return !IsTerminal(os.Stdin)
}

func isCIEnvironment() bool {
	for name, matches := range ciMarkers {
		if matches(os.Getenv(name)) {
			return true
		}
	}
	return false
}

// IsTerminal reports whether f is connected to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}
