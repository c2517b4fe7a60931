package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport scripts transport behavior for connection tests.
type fakeTransport struct {
	mu       sync.Mutex
	started  bool
	closes   int
	startErr error
	handler  func(method string, params interface{}) (json.RawMessage, error)
	notifies []string
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeTransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.handler(method, params)
}

func (f *fakeTransport) Notify(ctx context.Context, method string, params interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, method)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func scriptedTransport(tools []Tool) *fakeTransport {
	return &fakeTransport{
		handler: func(method string, params interface{}) (json.RawMessage, error) {
			switch method {
			case "initialize":
				return json.RawMessage(`{"protocolVersion":"2024-11-05"}`), nil
			case "tools/list":
				payload, _ := json.Marshal(map[string]interface{}{"tools": tools})
				return payload, nil
			case "tools/call":
				result := CallResult{Content: []ContentBlock{{Type: "text", Text: "ok"}}}
				payload, _ := json.Marshal(result)
				return payload, nil
			default:
				return nil, fmt.Errorf("unexpected method %s", method)
			}
		},
	}
}

func testConn(t *testing.T, transport Transport) *Connection {
	t.Helper()
	return newConnectionWithTransport(ServerSpec{Name: "files", Command: "server"}, transport, zerolog.Nop())
}

func TestConnectionOpen(t *testing.T) {
	transport := scriptedTransport([]Tool{{Name: "read_file", Description: "Read a file"}})
	conn := testConn(t, transport)

	assert.Equal(t, StateUnconnected, conn.State())

	require.NoError(t, conn.Open(context.Background()))
	assert.Equal(t, StateReady, conn.State())

	tools := conn.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "read_file", tools[0].Name)

	assert.Contains(t, transport.notifies, "notifications/initialized")
}

func TestConnectionOpenOnlyFromUnconnected(t *testing.T) {
	conn := testConn(t, scriptedTransport(nil))

	require.NoError(t, conn.Open(context.Background()))

	err := conn.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ready")
}

func TestConnectionOpenFailure(t *testing.T) {
	transport := &fakeTransport{startErr: fmt.Errorf("spawn failed")}
	conn := testConn(t, transport)

	err := conn.Open(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, conn.State())
	assert.ErrorContains(t, conn.Err(), "spawn failed")

	// Partial resources are released on a failed open.
	assert.Equal(t, 1, transport.closeCount())
}

func TestConnectionHandshakeFailure(t *testing.T) {
	transport := &fakeTransport{
		handler: func(method string, params interface{}) (json.RawMessage, error) {
			return nil, &rpcError{Code: -32600, Message: "bad request"}
		},
	}
	conn := testConn(t, transport)

	err := conn.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize handshake")
	assert.Equal(t, StateFailed, conn.State())
}

func TestConnectionCallTool(t *testing.T) {
	conn := testConn(t, scriptedTransport([]Tool{{Name: "read_file"}}))
	require.NoError(t, conn.Open(context.Background()))

	out, isErr, err := conn.CallTool(context.Background(), "read_file", map[string]interface{}{"path": "/tmp/x"})
	require.NoError(t, err)
	assert.False(t, isErr)
	assert.Equal(t, "ok", out)
}

func TestConnectionCallToolErrorResult(t *testing.T) {
	transport := scriptedTransport([]Tool{{Name: "read_file"}})
	base := transport.handler
	transport.handler = func(method string, params interface{}) (json.RawMessage, error) {
		if method == "tools/call" {
			result := CallResult{
				Content: []ContentBlock{{Type: "text", Text: "no such file"}},
				IsError: true,
			}
			payload, _ := json.Marshal(result)
			return payload, nil
		}
		return base(method, params)
	}
	conn := testConn(t, transport)
	require.NoError(t, conn.Open(context.Background()))

	out, isErr, err := conn.CallTool(context.Background(), "read_file", nil)
	require.NoError(t, err)
	assert.True(t, isErr)
	assert.Equal(t, "no such file", out)
}

func TestConnectionCallToolNotReady(t *testing.T) {
	conn := testConn(t, scriptedTransport(nil))

	_, _, err := conn.CallTool(context.Background(), "read_file", nil)
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Contains(t, invErr.Reason, "unconnected")
}

func TestConnectionCallToolUnknown(t *testing.T) {
	conn := testConn(t, scriptedTransport([]Tool{{Name: "read_file"}}))
	require.NoError(t, conn.Open(context.Background()))

	_, _, err := conn.CallTool(context.Background(), "write_file", nil)
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "unknown tool", invErr.Reason)
}

func TestConnectionCallToolTimeout(t *testing.T) {
	transport := scriptedTransport([]Tool{{Name: "slow"}})
	base := transport.handler
	transport.handler = func(method string, params interface{}) (json.RawMessage, error) {
		if method == "tools/call" {
			time.Sleep(200 * time.Millisecond)
			return nil, context.DeadlineExceeded
		}
		return base(method, params)
	}

	conn := newConnectionWithTransport(
		ServerSpec{Name: "files", Command: "server", Timeout: 50 * time.Millisecond},
		transport, zerolog.Nop(),
	)
	require.NoError(t, conn.Open(context.Background()))

	_, _, err := conn.CallTool(context.Background(), "slow", nil)
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "call timed out", invErr.Reason)
}

func TestConnectionCallsSerialized(t *testing.T) {
	var inFlight, maxInFlight int
	var mu sync.Mutex

	transport := scriptedTransport([]Tool{{Name: "read_file"}})
	base := transport.handler
	transport.handler = func(method string, params interface{}) (json.RawMessage, error) {
		if method == "tools/call" {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
		}
		return base(method, params)
	}
	conn := testConn(t, transport)
	require.NoError(t, conn.Open(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = conn.CallTool(context.Background(), "read_file", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "tool calls on one connection must not overlap")
}

func TestConnectionClose(t *testing.T) {
	transport := scriptedTransport(nil)
	conn := testConn(t, transport)
	require.NoError(t, conn.Open(context.Background()))

	require.NoError(t, conn.Close())
	assert.Equal(t, StateClosed, conn.State())

	// Close is idempotent.
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, transport.closeCount())
}

func TestConnectionCloseUnconnected(t *testing.T) {
	transport := scriptedTransport(nil)
	conn := testConn(t, transport)

	require.NoError(t, conn.Close())
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 0, transport.closeCount(), "nothing to tear down before open")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unconnected", StateUnconnected.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
}

func TestCallResultFlatten(t *testing.T) {
	result := CallResult{Content: []ContentBlock{
		{Type: "text", Text: "line one"},
		{Type: "image", Data: "base64", MimeType: "image/png"},
		{Type: "text", Text: "line two"},
	}}

	assert.Equal(t, "line one\n[image content]\nline two", result.Flatten())
}

func TestResponseID(t *testing.T) {
	id, ok := responseID(float64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, id)

	_, ok = responseID(nil)
	assert.False(t, ok)

	_, ok = responseID("not-a-number")
	assert.False(t, ok)
}
