package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SSETransport talks to a remote MCP server over the SSE transport:
// responses arrive on a long-lived text/event-stream connection, requests
// are POSTed to the message endpoint the server announces in its first
// event.
type SSETransport struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	logger  zerolog.Logger

	mu       sync.Mutex
	endpoint string
	id       int
	pending  map[int]chan *rpcResponse
	cancel   context.CancelFunc
	body     io.Closer
	closed   bool
	done     chan struct{}

	endpointReady chan struct{}
}

// NewSSETransport creates a transport for the event-stream endpoint at rawURL.
// Headers are applied to every request, which is how bearer tokens reach
// protected servers.
func NewSSETransport(rawURL string, headers map[string]string, logger zerolog.Logger) *SSETransport {
	return &SSETransport{
		baseURL:       rawURL,
		headers:       headers,
		client:        &http.Client{},
		logger:        logger,
		pending:       make(map[int]chan *rpcResponse),
		done:          make(chan struct{}),
		endpointReady: make(chan struct{}),
	}
}

// Start opens the event stream and waits for the server to announce its
// message endpoint.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	if t.body != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("open event stream: unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("open event stream: unexpected content type %q", ct)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.body = resp.Body
	t.cancel = cancel
	t.mu.Unlock()

	go t.listen(streamCtx, resp.Body)

	// The message endpoint arrives as the first event.
	select {
	case <-t.endpointReady:
		return nil
	case <-ctx.Done():
		_ = t.Close()
		return fmt.Errorf("waiting for endpoint event: %w", ctx.Err())
	case <-time.After(15 * time.Second):
		_ = t.Close()
		return fmt.Errorf("timed out waiting for endpoint event")
	}
}

func (t *SSETransport) listen(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	event := ""
	var data bytes.Buffer

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() > 0 {
				t.handleEvent(event, data.String())
			}
			event = ""
			data.Reset()
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		t.logger.Debug().Err(err).Msg("Event stream ended")
	}
}

func (t *SSETransport) handleEvent(event, data string) {
	switch event {
	case "endpoint":
		resolved, err := t.resolveEndpoint(data)
		if err != nil {
			t.logger.Error().Err(err).Str("endpoint", data).Msg("Invalid endpoint event")
			return
		}
		t.mu.Lock()
		first := t.endpoint == ""
		t.endpoint = resolved
		t.mu.Unlock()
		if first {
			close(t.endpointReady)
		}
	case "message", "":
		var resp rpcResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			t.logger.Error().Err(err).Msg("Failed to unmarshal server message")
			return
		}

		id, ok := responseID(resp.ID)
		if !ok {
			return
		}

		t.mu.Lock()
		ch, exists := t.pending[id]
		if exists {
			delete(t.pending, id)
		}
		t.mu.Unlock()

		if exists {
			ch <- &resp
		}
	}
}

// resolveEndpoint resolves the announced message path against the stream URL.
func (t *SSETransport) resolveEndpoint(raw string) (string, error) {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Call POSTs a request to the message endpoint and waits for the correlated
// response to arrive on the event stream.
func (t *SSETransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed || t.endpoint == "" {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport not started")
	}
	t.id++
	id := t.id
	ch := make(chan *rpcResponse, 1)
	t.pending[id] = ch
	endpoint := t.endpoint
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.post(ctx, endpoint, rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}); err != nil {
		return nil, err
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

// Notify POSTs a notification to the message endpoint.
func (t *SSETransport) Notify(ctx context.Context, method string, params interface{}) error {
	t.mu.Lock()
	endpoint := t.endpoint
	closed := t.closed
	t.mu.Unlock()

	if closed || endpoint == "" {
		return fmt.Errorf("transport not started")
	}
	return t.post(ctx, endpoint, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *SSETransport) post(ctx context.Context, endpoint string, msg rpcRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post message: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close terminates the event stream. Repeated calls are no-ops.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)

	if t.cancel != nil {
		t.cancel()
	}
	if t.body != nil {
		_ = t.body.Close()
	}
	return nil
}
