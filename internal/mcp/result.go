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
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Result is the outcome of a tool call. It is either a TextResult or a
// StructuredResult.
type Result interface {
	// Failed reports whether the server flagged the result as a tool error.
	Failed() bool

	isResult()
}

// TextResult is a result whose first content item carries text.
type TextResult struct {
	Text    string
	IsError bool
}

func (r TextResult) Failed() bool { return r.IsError }
func (TextResult) isResult()      {}

// StructuredResult is any other result. Value is rendered as JSON.
type StructuredResult struct {
	Value   any
	IsError bool
}

func (r StructuredResult) Failed() bool { return r.IsError }
func (StructuredResult) isResult()      {}

// ExtractText returns the text handed back to the model: a TextResult's
// text, otherwise a string rendering of the whole structured value.
func ExtractText(r Result) string {
	switch v := r.(type) {
	case TextResult:
		return v.Text
	case StructuredResult:
		if s, ok := v.Value.(string); ok {
			return s
		}
		data, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Sprintf("%v", v.Value)
		}
		return string(data)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// resultFromCallTool converts an mcp-go tool result into a Result.
func resultFromCallTool(res *mcp.CallToolResult) Result {
	if res == nil {
		return StructuredResult{}
	}
	if len(res.Content) > 0 {
		if text, ok := mcp.AsTextContent(res.Content[0]); ok {
			return TextResult{Text: text.Text, IsError: res.IsError}
		}
	}
	if res.StructuredContent != nil {
		return StructuredResult{Value: res.StructuredContent, IsError: res.IsError}
	}
	return StructuredResult{Value: res, IsError: res.IsError}
}
