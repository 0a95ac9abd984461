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

// Package testing provides scriptable tool server sessions for tests.
package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/relay/internal/mcp"
)

// Call records one operation observed by a MockSession.
type Call struct {
	// Method is "list_tools" or "call_tool".
	Method string
	Tool   string
	Args   map[string]any
}

// MockSession implements mcp.Session with scripted behaviour. It records
// every operation in the order it was received and tracks how many ran at
// once.
type MockSession struct {
	mu        sync.Mutex
	tools     []mcp.ToolDescriptor
	results   map[string]mcp.Result
	callFunc  func(ctx context.Context, name string, args map[string]any) (mcp.Result, error)
	listErr   error
	callErr   error
	callDelay time.Duration
	listDelay time.Duration

	calls     []Call
	active    int
	maxActive int
	closed    bool
}

// NewMockSession creates a session exposing tools. Each tool answers with
// the text "ok" unless scripted otherwise.
func NewMockSession(tools ...string) *MockSession {
	s := &MockSession{results: make(map[string]mcp.Result)}
	for _, name := range tools {
		s.tools = append(s.tools, mcp.ToolDescriptor{
			Name:        name,
			Description: "mock tool " + name,
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		})
	}
	return s
}

// WithResult scripts the text result for a tool.
func (s *MockSession) WithResult(tool, text string) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[tool] = mcp.TextResult{Text: text}
	return s
}

// WithCallFunc replaces the tool call handler.
func (s *MockSession) WithCallFunc(fn func(ctx context.Context, name string, args map[string]any) (mcp.Result, error)) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callFunc = fn
	return s
}

// WithCallDelay makes every tool call wait d, or until its context ends.
func (s *MockSession) WithCallDelay(d time.Duration) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callDelay = d
	return s
}

// WithListDelay makes discovery wait d, or until its context ends.
func (s *MockSession) WithListDelay(d time.Duration) *MockSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listDelay = d
	return s
}

// SetListError makes discovery fail with err. nil restores success.
func (s *MockSession) SetListError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// SetCallError makes every tool call fail with err. nil restores success.
func (s *MockSession) SetCallError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callErr = err
}

// SetTools replaces the advertised tool list.
func (s *MockSession) SetTools(tools ...string) {
	fresh := NewMockSession(tools...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = fresh.tools
}

func (s *MockSession) enter(call Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
}

func (s *MockSession) exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListTools implements mcp.Session.
func (s *MockSession) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	s.enter(Call{Method: "list_tools"})
	defer s.exit()

	s.mu.Lock()
	delay, err := s.listDelay, s.listErr
	tools := make([]mcp.ToolDescriptor, len(s.tools))
	copy(tools, s.tools)
	s.mu.Unlock()

	if werr := wait(ctx, delay); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// CallTool implements mcp.Session.
func (s *MockSession) CallTool(ctx context.Context, name string, args map[string]any) (mcp.Result, error) {
	s.enter(Call{Method: "call_tool", Tool: name, Args: args})
	defer s.exit()

	s.mu.Lock()
	delay, err, fn := s.callDelay, s.callErr, s.callFunc
	result, scripted := s.results[name]
	known := false
	for _, t := range s.tools {
		if t.Name == name {
			known = true
			break
		}
	}
	s.mu.Unlock()

	if werr := wait(ctx, delay); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, name, args)
	}
	if !known {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if scripted {
		return result, nil
	}
	return mcp.TextResult{Text: "ok"}, nil
}

// Close implements mcp.Session.
func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns the recorded operations in arrival order.
func (s *MockSession) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// ToolCalls returns only the call_tool operations.
func (s *MockSession) ToolCalls() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == "call_tool" {
			out = append(out, c)
		}
	}
	return out
}

// MaxConcurrent returns the highest number of operations seen in flight.
func (s *MockSession) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// Closed reports whether Close was called.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MockDialer implements mcp.Dialer over registered session factories.
type MockDialer struct {
	mu        sync.Mutex
	factories map[string]func() *MockSession
	dialErrs  map[string]error
	dialDelay time.Duration
	dials     map[string]int
	sessions  map[string][]*MockSession
}

// NewMockDialer creates an empty dialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		factories: make(map[string]func() *MockSession),
		dialErrs:  make(map[string]error),
		dials:     make(map[string]int),
		sessions:  make(map[string][]*MockSession),
	}
}

// Register serves server with sessions built by factory. Every dial gets a
// fresh session.
func (d *MockDialer) Register(server string, factory func() *MockSession) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[server] = factory
	return d
}

// FailDial makes dials to server fail with err. nil restores success.
func (d *MockDialer) FailDial(server string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.dialErrs, server)
		return
	}
	d.dialErrs[server] = err
}

// SetDialDelay slows every dial down by delay.
func (d *MockDialer) SetDialDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialDelay = delay
}

// Dial implements mcp.Dialer.
func (d *MockDialer) Dial(ctx context.Context, desc mcp.ServerDescriptor) (mcp.Session, error) {
	d.mu.Lock()
	d.dials[desc.Name]++
	factory, ok := d.factories[desc.Name]
	err := d.dialErrs[desc.Name]
	delay := d.dialDelay
	d.mu.Unlock()

	if werr := wait(ctx, delay); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no mock server registered for %q", desc.Name)
	}

	session := factory()
	d.mu.Lock()
	d.sessions[desc.Name] = append(d.sessions[desc.Name], session)
	d.mu.Unlock()
	return session, nil
}

// Dials returns how many times server was dialled.
func (d *MockDialer) Dials(server string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[server]
}

// Session returns the most recent session dialled for server, or nil.
func (d *MockDialer) Session(server string) *MockSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.sessions[server]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Sessions returns every session dialled for server in order.
func (d *MockDialer) Sessions(server string) []*MockSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockSession, len(d.sessions[server]))
	copy(out, d.sessions[server])
	return out
}

// Descriptors returns enabled stdio descriptors for every registered server,
// sorted by name.
func (d *MockDialer) Descriptors() []mcp.ServerDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.factories))
	for name := range d.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]mcp.ServerDescriptor, len(names))
	for i, name := range names {
		out[i] = mcp.ServerDescriptor{
			Name:      name,
			Transport: mcp.TransportStdio,
			Command:   "mock-" + name,
			Enabled:   true,
		}
	}
	return out
}
