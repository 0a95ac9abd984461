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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	relayerrors "github.com/tombee/relay/pkg/errors"

	"github.com/tombee/relay/internal/log"
)

// ConnState is the lifecycle state of a Connection.
type ConnState int

const (
	StateCreated ConnState = iota
	StateConnecting
	StateReady
	StateStopping
	StateClosed
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Operation is a unit of work run against a Session on the connection's
// own goroutine.
type Operation func(ctx context.Context, s Session) (any, error)

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	Descriptor ServerDescriptor
	Dialer     Dialer

	// QueueSize bounds requests waiting for the session. Defaults to 16.
	QueueSize int

	// StartTimeout bounds launch plus handshake. Defaults to 30s.
	StartTimeout time.Duration

	// StopTimeout bounds a graceful stop before the session is
	// force-cancelled. Defaults to 5s.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// Connection owns one tool server session. A single goroutine performs all
// protocol I/O; Call funnels work to it through a FIFO queue, so requests to
// one server never overlap.
type Connection struct {
	desc         ServerDescriptor
	dialer       Dialer
	startTimeout time.Duration
	stopTimeout  time.Duration
	logger       *slog.Logger

	queue  chan *request
	ready  chan struct{} // closed once the dial finished, either way
	stopCh chan struct{} // closed by Stop
	done   chan struct{} // closed when the owner goroutine exits
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.RWMutex
	state   ConnState
	lastErr error
	tools   []ToolDescriptor
	started bool
}

type request struct {
	ctx   context.Context
	op    Operation
	reply chan response
}

type response struct {
	value any
	err   error
}

// NewConnection creates a connection in the Created state. Nothing is
// launched until Start.
func NewConnection(cfg ConnectionConfig) *Connection {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = StdioDialer{}
	}
	return &Connection{
		desc:         cfg.Descriptor,
		dialer:       cfg.Dialer,
		startTimeout: cfg.StartTimeout,
		stopTimeout:  cfg.StopTimeout,
		logger:       log.WithServer(log.OrDefault(cfg.Logger), cfg.Descriptor.Name),
		queue:        make(chan *request, cfg.QueueSize),
		ready:        make(chan struct{}),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		state:        StateCreated,
	}
}

// Name returns the server name.
func (c *Connection) Name() string { return c.desc.Name }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the error that failed the connection, if any.
func (c *Connection) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Pending returns the number of queued requests not yet picked up.
func (c *Connection) Pending() int { return len(c.queue) }

// KnownTools returns the tools seen by the most recent successful discovery
// on this connection, or nil if discovery has not run.
func (c *Connection) KnownTools() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tools == nil {
		return nil
	}
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// HasTool reports whether the last discovery listed name. The second value
// is false when discovery has not run yet.
func (c *Connection) HasTool(name string) (has, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tools == nil {
		return false, false
	}
	for _, t := range c.tools {
		if t.Name == name {
			return true, true
		}
	}
	return false, true
}

func (c *Connection) setState(s ConnState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	if err != nil {
		c.lastErr = err
	}
}

// Start launches the server and blocks until the handshake completes, ctx is
// done, or the start timeout passes. A failed connection must not be reused.
func (c *Connection) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.mu.Lock()
		if c.state != StateCreated {
			c.mu.Unlock()
			return
		}
		// The session outlives the caller's ctx; only Stop ends it.
		lifetime, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.state = StateConnecting
		c.started = true
		c.mu.Unlock()

		go c.run(lifetime)
	})

	if !c.isStarted() {
		return errNotRunning(c.desc.Name)
	}

	timer := time.NewTimer(c.startTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
	case <-ctx.Done():
		c.abort(ctx.Err())
		return errConnectionFailed(c.desc.Name, ctx.Err())
	case <-timer.C:
		err := &relayerrors.TimeoutError{Operation: "mcp handshake", Duration: c.startTimeout}
		c.abort(err)
		return errConnectionFailed(c.desc.Name, err)
	}

	c.mu.RLock()
	state, lastErr := c.state, c.lastErr
	c.mu.RUnlock()
	if state != StateReady {
		if lastErr == nil {
			return errNotRunning(c.desc.Name)
		}
		return errConnectionFailed(c.desc.Name, lastErr)
	}
	return nil
}

func (c *Connection) isStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// abort fails a connection that never became ready.
func (c *Connection) abort(err error) {
	c.setState(StateFailed, err)
	if c.cancel != nil {
		c.cancel()
	}
}

// run is the owner goroutine. It is the only code that touches the session.
func (c *Connection) run(lifetime context.Context) {
	defer close(c.done)

	c.logger.Debug("connecting to tool server", slog.String("command", c.desc.Command))
	start := time.Now()

	session, err := c.dialer.Dial(lifetime, c.desc)
	if err != nil {
		c.setState(StateFailed, err)
		close(c.ready)
		c.logger.Warn("tool server connection failed", log.Error(err))
		c.drain()
		return
	}
	if lifetime.Err() != nil || c.stopRequested() {
		// Start gave up or Stop was called while the dial was in flight.
		_ = session.Close()
		close(c.ready)
		c.drain()
		return
	}

	c.setState(StateReady, nil)
	close(c.ready)
	c.logger.Info("tool server connected", slog.Int64(log.DurationKey, time.Since(start).Milliseconds()))

	defer func() {
		if err := session.Close(); err != nil {
			c.logger.Debug("session close returned error", log.Error(err))
		}
	}()

	for {
		// Stop wins over queued work.
		select {
		case <-c.stopCh:
			c.drain()
			return
		case <-lifetime.Done():
			c.drain()
			return
		default:
		}

		select {
		case <-c.stopCh:
			c.drain()
			return
		case <-lifetime.Done():
			c.drain()
			return
		case req := <-c.queue:
			c.serve(lifetime, session, req)
		}
	}
}

func (c *Connection) serve(lifetime context.Context, session Session, req *request) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- response{err: err}
		return
	}

	// The operation is cancelled by either the caller or a forced stop.
	opCtx, cancel := context.WithCancel(req.ctx)
	stopAfter := context.AfterFunc(lifetime, cancel)
	defer func() {
		stopAfter()
		cancel()
	}()

	value, err := req.op(opCtx, session)
	req.reply <- response{value: value, err: err}
}

func (c *Connection) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// drain fails every request still waiting in the queue.
func (c *Connection) drain() {
	for {
		select {
		case req := <-c.queue:
			req.reply <- response{err: errDisconnected(c.desc.Name)}
		default:
			return
		}
	}
}

// Call enqueues op and waits for its result. Safe for concurrent use;
// operations run one at a time in submission order.
func (c *Connection) Call(ctx context.Context, op Operation) (any, error) {
	if c.State() != StateReady {
		return nil, errNotRunning(c.desc.Name)
	}

	req := &request{ctx: ctx, op: op, reply: make(chan response, 1)}

	select {
	case c.queue <- req:
	case <-c.stopCh:
		return nil, errNotRunning(c.desc.Name)
	case <-c.done:
		return nil, errNotRunning(c.desc.Name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// The owner may have answered just before exiting.
		select {
		case resp := <-req.reply:
			return resp.value, resp.err
		default:
			return nil, errDisconnected(c.desc.Name)
		}
	}
}

// ListTools runs discovery on the connection and records the result for
// HasTool and KnownTools.
func (c *Connection) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	v, err := c.Call(ctx, func(ctx context.Context, s Session) (any, error) {
		return s.ListTools(ctx)
	})
	if err != nil {
		return nil, err
	}
	tools, _ := v.([]ToolDescriptor)
	for i := range tools {
		tools[i].Server = c.desc.Name
	}

	c.mu.Lock()
	c.tools = make([]ToolDescriptor, len(tools))
	copy(c.tools, tools)
	c.mu.Unlock()

	return tools, nil
}

// CallTool invokes a tool on the connection.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	v, err := c.Call(ctx, func(ctx context.Context, s Session) (any, error) {
		return s.CallTool(ctx, name, args)
	})
	if err != nil {
		return nil, err
	}
	res, _ := v.(Result)
	return res, nil
}

// Stop shuts the connection down. Queued requests fail with a disconnected
// error. If the owner goroutine has not exited within the stop timeout the
// session is force-cancelled. Idempotent.
func (c *Connection) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		if prev == StateReady || prev == StateConnecting {
			c.state = StateStopping
		}
		started := c.started
		c.mu.Unlock()

		close(c.stopCh)

		if !started {
			c.setState(StateClosed, nil)
			return
		}

		timer := time.NewTimer(c.stopTimeout)
		defer timer.Stop()

		select {
		case <-c.done:
		case <-timer.C:
			c.logger.Warn("tool server did not stop in time, cancelling",
				slog.Duration("timeout", c.stopTimeout))
			c.cancel()
			select {
			case <-c.done:
			case <-time.After(c.stopTimeout):
				err = &relayerrors.TimeoutError{Operation: "mcp stop " + c.desc.Name, Duration: 2 * c.stopTimeout}
			}
		}
		c.cancel()

		if prev == StateFailed {
			return
		}
		c.setState(StateClosed, nil)
		c.logger.Debug("tool server connection closed")
	})
	return err
}

// Done is closed once the owner goroutine has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }
