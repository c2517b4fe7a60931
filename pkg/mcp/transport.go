package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Transport is a bidirectional JSON-RPC channel to one MCP server.
type Transport interface {
	// Start establishes the underlying channel. It must be called once.
	Start(ctx context.Context) error

	// Call sends a request and waits for the correlated response.
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params interface{}) error

	// Close tears down the channel. It is idempotent.
	Close() error
}

// StdioTransport talks to a subprocess MCP server over newline-framed
// JSON-RPC on its stdin/stdout pipes.
type StdioTransport struct {
	command string
	args    []string
	env     map[string]string
	logger  zerolog.Logger

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	id      int
	pending map[int]chan *rpcResponse
	closed  bool
	done    chan struct{}
}

// NewStdioTransport creates a transport that will spawn command with args.
func NewStdioTransport(command string, args []string, env map[string]string, logger zerolog.Logger) *StdioTransport {
	return &StdioTransport{
		command: command,
		args:    args,
		env:     env,
		logger:  logger,
		pending: make(map[int]chan *rpcResponse),
		done:    make(chan struct{}),
	}
}

// Start spawns the server process and begins reading responses.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.process != nil {
		return nil
	}
	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	if len(t.env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range t.env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", t.command, err)
	}

	t.process = cmd
	t.stdin = stdin

	go t.listen(stdout)

	return nil
}

func (t *StdioTransport) listen(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	// Tool results can be large
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.logger.Error().Err(err).Msg("Failed to unmarshal server response")
			continue
		}

		id, ok := responseID(resp.ID)
		if !ok {
			// Server-initiated notification, nothing waits on it
			continue
		}

		t.mu.Lock()
		ch, exists := t.pending[id]
		if exists {
			delete(t.pending, id)
		}
		t.mu.Unlock()

		if exists {
			ch <- &resp
		} else {
			t.logger.Warn().Int("id", id).Msg("No pending call for response")
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug().Err(err).Msg("Read loop ended")
	}
}

// Call sends a request and waits for the correlated response. The caller
// bounds the wait through ctx.
func (t *StdioTransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed || t.stdin == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport not started")
	}
	t.id++
	id := t.id
	ch := make(chan *rpcResponse, 1)
	t.pending[id] = ch
	stdin := t.stdin
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return nil, err
	}

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-t.done:
		return nil, fmt.Errorf("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a notification without awaiting a response.
func (t *StdioTransport) Notify(ctx context.Context, method string, params interface{}) error {
	t.mu.Lock()
	stdin := t.stdin
	closed := t.closed
	t.mu.Unlock()

	if closed || stdin == nil {
		return fmt.Errorf("transport not started")
	}

	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}

	_, err = stdin.Write(append(data, '\n'))
	return err
}

// Close terminates the server process. Repeated calls are no-ops.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		if err := t.process.Process.Kill(); err != nil {
			return err
		}
		_ = t.process.Wait()
	}
	return nil
}
