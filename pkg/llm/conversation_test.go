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

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversation_AppendInPlace(t *testing.T) {
	conv := NewConversation(System("be brief"), User("hi"))
	alias := conv

	conv.Append(Assistant("hello"))

	assert.Equal(t, 3, alias.Len())
	last, ok := alias.Last()
	assert.True(t, ok)
	assert.Equal(t, MessageRoleAssistant, last.Role)

	snapshot := conv.Messages()
	conv.Append(User("again"))
	assert.Len(t, snapshot, 3, "snapshot must not observe later appends")
}

func TestConversation_LastEmpty(t *testing.T) {
	_, ok := NewConversation().Last()
	assert.False(t, ok)
}

func TestTrimHistory(t *testing.T) {
	history := []Message{User("1"), Assistant("2"), User("3"), Assistant("4")}

	assert.Equal(t, history, TrimHistory(history, 10))
	assert.Equal(t, []Message{User("3"), Assistant("4")}, TrimHistory(history, 2))
	assert.Equal(t, history, TrimHistory(history, 0))
}

func TestCompletionResponse_HasToolCalls(t *testing.T) {
	var nilResp *CompletionResponse
	assert.False(t, nilResp.HasToolCalls())
	assert.False(t, (&CompletionResponse{Content: "x"}).HasToolCalls())
	assert.True(t, (&CompletionResponse{ToolCalls: []ToolCall{{ID: "1", Name: "t"}}}).HasToolCalls())
}

func TestIntPtr(t *testing.T) {
	assert.Nil(t, IntPtr(0))
	assert.Equal(t, 42, *IntPtr(42))
}
