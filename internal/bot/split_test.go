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

package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"fits", "hello", 10, []string{"hello"}},
		{"no limit", "hello", 0, []string{"hello"}},
		{"line boundaries", "aaaa\nbbbb\ncccc", 9, []string{"aaaa\nbbbb", "cccc"}},
		{"exact fit", "aaaa\nbbbb", 9, []string{"aaaa\nbbbb"}},
		{"long line", "abcdefghij\nxy", 4, []string{"abcd", "efgh", "ij", "xy"}},
		{"multibyte", "ééé", 3, []string{"é", "é", "é"}},
		{"blank line at boundary", "aaaaa\n\nb", 5, []string{"aaaaa", "\nb"}},
		{"blank line before full line", "aaaaa\n\nbbbbb", 5, []string{"aaaaa", "", "bbbbb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.limit)
			assert.Equal(t, tt.want, got)
			for _, chunk := range got {
				if tt.limit > 0 {
					assert.LessOrEqual(t, len(chunk), tt.limit)
				}
			}
		})
	}
}

func TestSplitMessage_PreservesContent(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line of moderate length\n")
	}
	text := strings.TrimSuffix(b.String(), "\n")

	chunks := SplitMessage(text, 100)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, text, strings.Join(chunks, "\n"))

	for _, text := range []string{"aaaaa\n\nb", "a\n\n\n\nbbbbb\n\n", "\n\nccccc\nd"} {
		assert.Equal(t, text, strings.Join(SplitMessage(text, 5), "\n"), "%q", text)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(3, 3*time.Second, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.NoError(t, rl.Allow("a"))
	}
	err := rl.Allow("a")
	var rle *RateLimitError
	assert.ErrorAs(t, err, &rle)
	assert.Equal(t, "a", rle.ChatID)
	assert.Equal(t, "rate limit exceeded for chat a, retry in 1s", err.Error())

	now = now.Add(time.Second)
	assert.NoError(t, rl.Allow("a"))
	assert.Error(t, rl.Allow("a"))
}

func TestRateLimiter_ForgetsIdleChats(t *testing.T) {
	start := time.Unix(0, 0)
	now := start
	rl := NewRateLimiter(3, 3*time.Second, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow("a"))
	}
	require.NoError(t, rl.Allow("b"))

	now = start.Add(2 * time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow("d"))
	}
	assert.Len(t, rl.limiters, 3)

	// a and b have refilled; d is still one token short of full.
	now = start.Add(3 * time.Second)
	require.NoError(t, rl.Allow("c"))
	assert.ElementsMatch(t, []string{"c", "d"}, mapKeys(rl.limiters))

	for i := 0; i < 3; i++ {
		assert.NoError(t, rl.Allow("a"), "a starts with a full bucket again")
	}
	assert.Error(t, rl.Allow("a"))
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute, nil)
	for i := 0; i < 100; i++ {
		assert.NoError(t, rl.Allow("a"))
	}
}

func TestRateLimitError_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, (&RateLimitError{Wait: 10 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 3, (&RateLimitError{Wait: 2100 * time.Millisecond}).RetryAfterSeconds())
}
