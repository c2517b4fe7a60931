package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ServerTool pairs a discovered tool with the name of the connection that
// owns it.
type ServerTool struct {
	Server string
	Tool   Tool
}

// Manager owns the full set of configured connections. Opening and closing
// happen at one scoped boundary (process lifetime); lookups and invocation
// routing may happen concurrently from many runs in between.
type Manager struct {
	conns  []*Connection
	byName map[string]*Connection
	logger zerolog.Logger

	closeOnce sync.Once
}

// NewManager creates a manager with one Unconnected connection per spec.
// Spec order is preserved for deterministic tool aggregation.
func NewManager(specs []ServerSpec, logger zerolog.Logger) *Manager {
	m := &Manager{
		byName: make(map[string]*Connection, len(specs)),
		logger: logger,
	}
	for _, spec := range specs {
		if _, exists := m.byName[spec.Name]; exists {
			logger.Warn().Str("server", spec.Name).Msg("Duplicate server name, keeping first")
			continue
		}
		conn := NewConnection(spec, logger)
		m.conns = append(m.conns, conn)
		m.byName[spec.Name] = conn
	}
	return m
}

// OpenAll opens every configured connection concurrently. A failed open
// marks only that connection Failed and is logged; siblings still become
// Ready, so OpenAll itself never fails because of a single server.
func (m *Manager) OpenAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, conn := range m.conns {
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()
			if err := conn.Open(ctx); err != nil {
				m.logger.Error().Err(err).Str("server", conn.Name()).Msg("Failed to connect to MCP server")
			}
		}(conn)
	}
	wg.Wait()
}

// CloseAll closes every connection that left Unconnected, exactly once,
// regardless of whether its open succeeded. Safe to call multiple times and
// from deferred shutdown paths.
func (m *Manager) CloseAll() {
	m.closeOnce.Do(func() {
		for _, conn := range m.conns {
			if err := conn.Close(); err != nil {
				m.logger.Warn().Err(err).Str("server", conn.Name()).Msg("Error closing MCP connection")
			}
		}
	})
}

// Tools aggregates the cached tool lists of all Ready connections, in
// configured server order.
func (m *Manager) Tools() []ServerTool {
	var out []ServerTool
	for _, conn := range m.conns {
		if conn.State() != StateReady {
			continue
		}
		for _, tool := range conn.Tools() {
			out = append(out, ServerTool{Server: conn.Name(), Tool: tool})
		}
	}
	return out
}

// CallTool routes an invocation to the named connection.
func (m *Manager) CallTool(ctx context.Context, server, tool string, arguments map[string]interface{}) (string, bool, error) {
	conn, ok := m.byName[server]
	if !ok {
		return "", false, fmt.Errorf("unknown server %s", server)
	}
	return conn.CallTool(ctx, tool, arguments)
}

// Names returns the configured server names in order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.conns))
	for _, conn := range m.conns {
		names = append(names, conn.Name())
	}
	return names
}

// Connection returns the named connection, primarily for status reporting.
func (m *Manager) Connection(name string) (*Connection, bool) {
	conn, ok := m.byName[name]
	return conn, ok
}

// ReadyCount reports how many connections are currently Ready.
func (m *Manager) ReadyCount() int {
	n := 0
	for _, conn := range m.conns {
		if conn.State() == StateReady {
			n++
		}
	}
	return n
}
