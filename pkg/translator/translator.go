// Package translator is the single point of truth mapping tool names to the
// component that can run them. It merges local and remote descriptors into
// one schema for the model, and routes invocation requests back to the
// registry or the owning MCP connection. Tool-scoped failures never leave
// this package as errors: they are converted to error-tagged results so the
// model can react to them.
package translator

import (
	"context"
	"fmt"
	"time"

	"github.com/hollis/chassis/pkg/mcp"
	"github.com/hollis/chassis/pkg/tools"
	"github.com/rs/zerolog"
)

// Origin says which adapter owns a tool.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// ToolDescriptor is the uniform shape of a callable tool, regardless of
// where it lives. Server is set only for remote tools.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Origin      Origin                 `json:"origin"`
	Server      string                 `json:"server,omitempty"`
}

// Invocation is one tool call requested by the model.
type Invocation struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Result is the outcome of one invocation. It is always produced: a failed
// execution yields IsError with a readable message, never an absent result.
type Result struct {
	ID      string
	Output  string
	IsError bool
}

func errorResult(id, format string, args ...interface{}) Result {
	return Result{ID: id, Output: fmt.Sprintf(format, args...), IsError: true}
}

const defaultInvokeTimeout = 30 * time.Second

// Translator aggregates tool descriptors and dispatches invocations.
type Translator struct {
	registry *tools.Registry
	manager  *mcp.Manager
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a translator over the local registry and the MCP manager.
// timeout bounds each local invocation; zero selects the default.
func New(registry *tools.Registry, manager *mcp.Manager, timeout time.Duration, logger zerolog.Logger) *Translator {
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	return &Translator{
		registry: registry,
		manager:  manager,
		timeout:  timeout,
		logger:   logger,
	}
}

// Aggregate merges local and remote descriptors into one ordered sequence:
// locals in registration order, then Ready connections' tools in server
// order. Name collisions keep the first occurrence and are logged. A nil
// allowed list means every tool; a non-nil list is a strict whitelist, so
// an empty list yields no tools and unknown names are simply ignored.
func (t *Translator) Aggregate(allowed []string) []ToolDescriptor {
	var allowedSet map[string]bool
	if allowed != nil {
		allowedSet = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			allowedSet[name] = true
		}
	}

	seen := make(map[string]bool)
	var out []ToolDescriptor

	add := func(desc ToolDescriptor) {
		if seen[desc.Name] {
			t.logger.Warn().
				Str("tool", desc.Name).
				Str("origin", string(desc.Origin)).
				Str("server", desc.Server).
				Msg("Duplicate tool name, keeping first registration")
			return
		}
		seen[desc.Name] = true
		if allowedSet != nil && !allowedSet[desc.Name] {
			return
		}
		out = append(out, desc)
	}

	for _, def := range t.registry.Definitions() {
		add(ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema(),
			Origin:      OriginLocal,
		})
	}

	for _, st := range t.manager.Tools() {
		schema := st.Tool.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		add(ToolDescriptor{
			Name:        st.Tool.Name,
			Description: st.Tool.Description,
			InputSchema: schema,
			Origin:      OriginRemote,
			Server:      st.Server,
		})
	}

	return out
}

// Dispatch resolves an invocation to its owner and executes it. Every
// failure mode (unknown name, handler error, panic, timeout, transport
// fault) comes back as an error-tagged Result.
func (t *Translator) Dispatch(ctx context.Context, inv Invocation) Result {
	start := time.Now()

	var result Result
	switch {
	case t.registry.Has(inv.Name):
		result = t.dispatchLocal(ctx, inv)
	default:
		server, ok := t.owningServer(inv.Name)
		if !ok {
			t.logger.Warn().Str("tool", inv.Name).Msg("Unknown tool requested")
			return errorResult(inv.ID, "Error: tool '%s' not found", inv.Name)
		}
		result = t.dispatchRemote(ctx, server, inv)
	}

	t.logger.Debug().
		Str("tool", inv.Name).
		Bool("is_error", result.IsError).
		Dur("duration", time.Since(start)).
		Msg("Tool dispatched")

	return result
}

func (t *Translator) dispatchLocal(ctx context.Context, inv Invocation) Result {
	invokeCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		output, err := t.registry.Invoke(invokeCtx, inv.Name, inv.Arguments)
		done <- outcome{output, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return errorResult(inv.ID, "Error executing local tool: %v", o.err)
		}
		return Result{ID: inv.ID, Output: o.output}
	case <-invokeCtx.Done():
		return errorResult(inv.ID, "Error: tool '%s' timed out after %v", inv.Name, t.timeout)
	}
}

func (t *Translator) dispatchRemote(ctx context.Context, server string, inv Invocation) Result {
	output, isError, err := t.manager.CallTool(ctx, server, inv.Name, inv.Arguments)
	if err != nil {
		return errorResult(inv.ID, "Error executing MCP tool: %v", err)
	}
	return Result{ID: inv.ID, Output: output, IsError: isError}
}

// owningServer finds the Ready connection that advertises name. Local tools
// shadow remote ones, so this is only consulted after the registry misses.
func (t *Translator) owningServer(name string) (string, bool) {
	for _, st := range t.manager.Tools() {
		if st.Tool.Name == name {
			return st.Server, true
		}
	}
	return "", false
}
