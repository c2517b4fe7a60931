package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of one server connection.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InvocationError reports a tool call that could not be issued: the
// connection was not Ready, the tool is unknown to the server, or the call
// timed out.
type InvocationError struct {
	Server string
	Tool   string
	Reason string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s on %s: %s", e.Tool, e.Server, e.Reason)
}

const defaultCallTimeout = 30 * time.Second

// Connection is a live handle to one MCP server. It is owned exclusively by
// the Manager; other components refer to it only by server name.
type Connection struct {
	spec      ServerSpec
	transport Transport
	logger    zerolog.Logger

	mu      sync.RWMutex
	state   State
	tools   []Tool
	toolSet map[string]bool
	lastErr error

	// The underlying transport is a single ordered channel without
	// multiplexing, so calls are serialized per connection.
	callMu sync.Mutex
}

// NewConnection creates an Unconnected connection for spec. The transport is
// chosen from the spec: a launch command means subprocess stdio, a URL means
// the SSE event stream.
func NewConnection(spec ServerSpec, logger zerolog.Logger) *Connection {
	logger = logger.With().Str("server", spec.Name).Logger()

	var transport Transport
	if spec.Command != "" {
		transport = NewStdioTransport(spec.Command, spec.Args, spec.Env, logger)
	} else {
		transport = NewSSETransport(spec.URL, spec.Headers, logger)
	}

	return &Connection{
		spec:      spec,
		transport: transport,
		logger:    logger,
		state:     StateUnconnected,
	}
}

// newConnectionWithTransport is the test seam for injecting fake transports.
func newConnectionWithTransport(spec ServerSpec, transport Transport, logger zerolog.Logger) *Connection {
	return &Connection{
		spec:      spec,
		transport: transport,
		logger:    logger.With().Str("server", spec.Name).Logger(),
		state:     StateUnconnected,
	}
}

// Name returns the configured server name.
func (c *Connection) Name() string {
	return c.spec.Name
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the error that moved the connection to Failed, if any.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Tools returns the tool list cached during the open handshake. Valid only
// once the connection is Ready; empty otherwise.
func (c *Connection) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Open drives Unconnected through Connecting to Ready: it starts the
// transport, performs the initialize handshake, and caches the server's
// tool list. Any failure lands in Failed with the cause recorded.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("open %s: connection is %s", c.spec.Name, state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.open(ctx); err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.lastErr = err
		c.mu.Unlock()
		_ = c.transport.Close()
		return err
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

func (c *Connection) open(ctx context.Context) error {
	openCtx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()

	if err := c.transport.Start(openCtx); err != nil {
		return err
	}

	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "chassis",
			"version": "0.1.0",
		},
	}
	if _, err := c.transport.Call(openCtx, "initialize", params); err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}
	if err := c.transport.Notify(openCtx, "notifications/initialized", nil); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send initialized notification")
	}

	result, err := c.transport.Call(openCtx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tool discovery: %w", err)
	}

	var listResult struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(result, &listResult); err != nil {
		return fmt.Errorf("parse tool list: %w", err)
	}

	c.mu.Lock()
	c.tools = listResult.Tools
	c.toolSet = make(map[string]bool, len(listResult.Tools))
	for _, tool := range listResult.Tools {
		c.toolSet[tool.Name] = true
	}
	c.mu.Unlock()

	c.logger.Info().Int("tools", len(listResult.Tools)).Msg("Connected to MCP server")
	return nil
}

// CallTool invokes a tool on this connection. Calls are serialized: the
// transport handles one request at a time and concurrent callers queue.
// The second return reports whether the server flagged the result as an
// error.
func (c *Connection) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (string, bool, error) {
	c.mu.RLock()
	state := c.state
	known := c.toolSet[name]
	c.mu.RUnlock()

	if state != StateReady {
		return "", false, &InvocationError{Server: c.spec.Name, Tool: name, Reason: fmt.Sprintf("connection is %s", state)}
	}
	if !known {
		return "", false, &InvocationError{Server: c.spec.Name, Tool: name, Reason: "unknown tool"}
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()

	params := map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	}
	result, err := c.transport.Call(callCtx, "tools/call", params)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", false, &InvocationError{Server: c.spec.Name, Tool: name, Reason: "call timed out"}
		}
		return "", false, err
	}

	var callResult CallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return "", false, fmt.Errorf("parse tool result: %w", err)
	}

	return callResult.Flatten(), callResult.IsError, nil
}

func (c *Connection) callTimeout() time.Duration {
	if c.spec.Timeout > 0 {
		return c.spec.Timeout
	}
	return defaultCallTimeout
}

// Close moves the connection to Closed, terminating the subprocess or
// network stream. Repeated calls are no-ops.
func (c *Connection) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateClosed, StateClosing, StateUnconnected:
		if c.state == StateUnconnected {
			c.state = StateClosed
		}
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	c.mu.Unlock()

	err := c.transport.Close()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	return err
}
