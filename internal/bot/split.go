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

import "strings"

// SplitMessage breaks text into chunks of at most limit bytes, cutting at
// line boundaries. A single line longer than limit is cut at rune
// boundaries. Joining the chunks with newlines restores text unless a line
// had to be cut. A non-positive limit returns text unchanged.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	// open is true once current holds a line, even an empty one, so blank
	// lines at a chunk boundary survive.
	open := false
	flush := func() {
		if open {
			chunks = append(chunks, current.String())
			current.Reset()
			open = false
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			flush()
			cut := runeCut(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if open && current.Len()+1+len(line) > limit {
			flush()
		}
		if open {
			current.WriteByte('\n')
		}
		current.WriteString(line)
		open = true
	}
	flush()
	return chunks
}

// runeCut returns the largest index <= limit that falls on a rune boundary.
func runeCut(s string, limit int) int {
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
