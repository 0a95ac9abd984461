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

// Conversation is an ordered, role-tagged message buffer owned by the caller.
// The tool loop appends to it in place.
type Conversation []Message

// NewConversation returns a conversation seeded with msgs.
func NewConversation(msgs ...Message) *Conversation {
	c := make(Conversation, 0, len(msgs)+8)
	c = append(c, msgs...)
	return &c
}

// Append adds messages to the end of the conversation.
func (c *Conversation) Append(msgs ...Message) {
	*c = append(*c, msgs...)
}

// Messages returns a copy of the current messages, safe to hand to a provider.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(*c))
	copy(out, *c)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(*c)
}

// Last returns the final message, or false for an empty conversation.
func (c *Conversation) Last() (Message, bool) {
	if len(*c) == 0 {
		return Message{}, false
	}
	return (*c)[len(*c)-1], true
}

// System returns a system message.
func System(content string) Message {
	return Message{Role: MessageRoleSystem, Content: content}
}

// User returns a user message.
func User(content string) Message {
	return Message{Role: MessageRoleUser, Content: content}
}

// Assistant returns a plain assistant message.
func Assistant(content string) Message {
	return Message{Role: MessageRoleAssistant, Content: content}
}

// TrimHistory keeps the most recent max messages.
func TrimHistory(history []Message, max int) []Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}
