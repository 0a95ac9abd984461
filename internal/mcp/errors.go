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

package mcp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeConnectionFailed indicates the subprocess failed to launch or
	// the handshake failed. The connection is discarded.
	ErrorCodeConnectionFailed MCPErrorCode = "connection_failed"
	// ErrorCodeNotRunning indicates a call on a stopped or failed connection.
	ErrorCodeNotRunning MCPErrorCode = "not_running"
	// ErrorCodeDisconnected indicates a pending request was dropped at stop.
	ErrorCodeDisconnected MCPErrorCode = "disconnected"
	// ErrorCodeToolNotFound indicates no configured server owns the tool.
	ErrorCodeToolNotFound MCPErrorCode = "tool_not_found"
	// ErrorCodeTimeout indicates a tool call exceeded its deadline.
	ErrorCodeTimeout MCPErrorCode = "timeout"
	// ErrorCodeExecution indicates a protocol or server failure during a call.
	ErrorCodeExecution MCPErrorCode = "execution"
	// ErrorCodeConfig indicates an invalid server configuration.
	ErrorCodeConfig MCPErrorCode = "config"
)

// MCPError is an error from the tool layer.
type MCPError struct {
	Code MCPErrorCode

	// Server is the server involved, if any.
	Server string

	Message string

	// Hint is actionable guidance for the operator.
	Hint string

	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder
	if e.Server != "" {
		sb.WriteString("mcp server ")
		sb.WriteString(e.Server)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *MCPError) ErrorType() string { return "mcp_" + string(e.Code) }

// IsRetryable implements pkg/errors.ErrorClassifier. Connection-level
// failures are retryable because the next request reconnects.
func (e *MCPError) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeConnectionFailed, ErrorCodeNotRunning, ErrorCodeDisconnected, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *MCPError) IsUserVisible() bool { return true }

// UserMessage implements pkg/errors.UserVisibleError.
func (e *MCPError) UserMessage() string { return e.Error() }

// Suggestion implements pkg/errors.UserVisibleError.
func (e *MCPError) Suggestion() string { return e.Hint }

// IsCode reports whether err is an *MCPError with the given code.
func IsCode(err error, code MCPErrorCode) bool {
	var mcpErr *MCPError
	return errors.As(err, &mcpErr) && mcpErr.Code == code
}

func errConnectionFailed(server string, cause error) *MCPError {
	return &MCPError{
		Code:    ErrorCodeConnectionFailed,
		Server:  server,
		Message: "failed to connect",
		Hint:    "Check the server command is installed and runs standalone",
		Cause:   cause,
	}
}

func errNotRunning(server string) *MCPError {
	return &MCPError{
		Code:    ErrorCodeNotRunning,
		Server:  server,
		Message: "connection is not running",
	}
}

func errDisconnected(server string) *MCPError {
	return &MCPError{
		Code:    ErrorCodeDisconnected,
		Server:  server,
		Message: "connection closed before the request was processed",
	}
}

func errToolNotFound(tool string) *MCPError {
	return &MCPError{
		Code:    ErrorCodeToolNotFound,
		Message: fmt.Sprintf("tool %q not found on any configured server", tool),
		Hint:    "List available tools with: relay tools",
	}
}

func errTimeout(server, tool string, after time.Duration) *MCPError {
	return &MCPError{
		Code:    ErrorCodeTimeout,
		Server:  server,
		Message: fmt.Sprintf("tool %q timed out after %s", tool, after),
	}
}

func errExecution(server, tool string, cause error) *MCPError {
	return &MCPError{
		Code:    ErrorCodeExecution,
		Server:  server,
		Message: fmt.Sprintf("tool %q failed", tool),
		Cause:   cause,
	}
}

func errConfig(server, message string) *MCPError {
	return &MCPError{
		Code:    ErrorCodeConfig,
		Server:  server,
		Message: message,
	}
}
