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
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 400 * time.Millisecond, want: "0s"},
		{in: 12 * time.Second, want: "12s"},
		{in: 2 * time.Minute, want: "2m"},
		{in: 83 * time.Second, want: "1m 23s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatElapsed(tt.in), tt.in.String())
	}
}

func TestSpinner_NoAnimationWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, false)
	s.Start("thinking")
	s.Start("ignored while active")
	assert.GreaterOrEqual(t, s.Stop(), time.Duration(0))
	assert.Equal(t, time.Duration(0), s.Stop())
	assert.Empty(t, buf.String())
}

func TestSpinner_AnimatedClearsLine(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, true)
	s.Start("thinking")
	s.Stop()

	out := buf.String()
	assert.Contains(t, out, "thinking")
	assert.Contains(t, out, "\r\033[K")
}
