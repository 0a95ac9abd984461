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

package errors_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/tombee/relay/pkg/errors"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation with field",
			err:  &relayerrors.ValidationError{Field: "text", Message: "must not be empty"},
			want: "validation failed on text: must not be empty",
		},
		{
			name: "validation without field",
			err:  &relayerrors.ValidationError{Message: "bad input"},
			want: "validation failed: bad input",
		},
		{
			name: "not found",
			err:  &relayerrors.NotFoundError{Resource: "tool", ID: "lookup"},
			want: "tool not found: lookup",
		},
		{
			name: "provider with status and request id",
			err: &relayerrors.ProviderError{
				Provider:   "openai",
				StatusCode: 400,
				Message:    "context length exceeded",
				RequestID:  "req_1",
			},
			want: "provider openai error [HTTP 400]: context length exceeded (request-id: req_1)",
		},
		{
			name: "config with key",
			err:  &relayerrors.ConfigError{Key: "mcp.tool_timeout", Reason: "must be positive"},
			want: "config error at mcp.tool_timeout: must be positive",
		},
		{
			name: "timeout",
			err:  &relayerrors.TimeoutError{Operation: "tool call", Duration: 30 * time.Second},
			want: "tool call operation timed out after 30s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestProviderError_Classification(t *testing.T) {
	tests := []struct {
		name       string
		err        *relayerrors.ProviderError
		badRequest bool
		retryable  bool
	}{
		{"bad request", &relayerrors.ProviderError{StatusCode: 400}, true, false},
		{"unauthorized", &relayerrors.ProviderError{StatusCode: 401}, false, false},
		{"rate limited", &relayerrors.ProviderError{StatusCode: 429}, false, true},
		{"server error", &relayerrors.ProviderError{StatusCode: 502}, false, true},
		{"transport error", &relayerrors.ProviderError{Cause: errors.New("connection reset")}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.badRequest, tt.err.IsBadRequest())
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
		})
	}
}

func TestIsBadRequest_ThroughWrapping(t *testing.T) {
	base := &relayerrors.ProviderError{Provider: "openai", StatusCode: 400, Message: "invalid messages"}
	wrapped := fmt.Errorf("completing: %w", base)

	assert.True(t, relayerrors.IsBadRequest(wrapped))
	assert.False(t, relayerrors.IsBadRequest(errors.New("plain")))
	assert.False(t, relayerrors.IsBadRequest(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, relayerrors.IsRetryable(relayerrors.Wrap(&relayerrors.TimeoutError{Operation: "x"}, "ctx")))
	assert.False(t, relayerrors.IsRetryable(&relayerrors.ConfigError{Reason: "bad"}))
	assert.False(t, relayerrors.IsRetryable(errors.New("unclassified")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, relayerrors.Wrap(nil, "context"))
	assert.Nil(t, relayerrors.Wrapf(nil, "loading %s", "x"))

	cause := &relayerrors.NotFoundError{Resource: "chat", ID: "7"}
	err := relayerrors.Wrapf(cause, "loading history for %s", "7")
	require.Error(t, err)
	assert.Equal(t, "loading history for 7: chat not found: 7", err.Error())

	var nf *relayerrors.NotFoundError
	require.True(t, relayerrors.As(err, &nf))
	assert.Equal(t, "7", nf.ID)
}

func TestUnwrapChains(t *testing.T) {
	root := errors.New("disk full")

	cfgErr := &relayerrors.ConfigError{Reason: "cannot write", Cause: root}
	assert.True(t, relayerrors.Is(cfgErr, root))

	toErr := &relayerrors.TimeoutError{Operation: "stop", Cause: root}
	assert.True(t, errors.Is(toErr, root))

	provErr := &relayerrors.ProviderError{Provider: "openai", Cause: root}
	assert.True(t, errors.Is(provErr, root))

	joined := relayerrors.Join(cfgErr, errors.New("other"))
	assert.True(t, errors.Is(joined, root))
}
