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
	"errors"
	"fmt"
	"io"
	"os"

	relayerrors "github.com/tombee/relay/pkg/errors"
)

// Exit codes for relay commands
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitConfigError   = 2
	ExitProviderError = 3
	ExitToolError     = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates an error for configuration and startup failures
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

// NewProviderError creates an error for LLM API failures
func NewProviderError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitProviderError, Message: msg, Cause: cause}
}

// NewToolError creates an error for tool server failures
func NewToolError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitToolError, Message: msg, Cause: cause}
}

// HandleExitError reports err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(reportError(os.Stdout, os.Stderr, err, GetJSON()))
}

// reportError writes err for the user and returns the exit code.
func reportError(stdout, stderr io.Writer, err error, jsonMode bool) int {
	code := ExitFailure
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	suggestion := userSuggestion(err)

	if jsonMode {
		_ = EmitJSONError(stdout, "", []JSONError{{
			Code:       errorCodeName(code),
			Message:    err.Error(),
			Suggestion: suggestion,
		}})
		return code
	}

	fmt.Fprintln(stderr, RenderError("Error: "+err.Error()))
	if suggestion != "" {
		fmt.Fprintf(stderr, "\nSuggestion: %s\n", suggestion)
	}
	return code
}

// userSuggestion walks the chain for a UserVisibleError with a suggestion.
func userSuggestion(err error) string {
	for err != nil {
		if userErr, ok := err.(relayerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				return userErr.Suggestion()
			}
			return ""
		}
		err = errors.Unwrap(err)
	}
	return ""
}

func errorCodeName(code int) string {
	switch code {
	case ExitConfigError:
		return "config_error"
	case ExitProviderError:
		return "provider_error"
	case ExitToolError:
		return "tool_error"
	default:
		return "failure"
	}
}
