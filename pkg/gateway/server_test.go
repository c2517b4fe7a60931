package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis/chassis/pkg/agent"
	"github.com/hollis/chassis/pkg/translator"
)

// fakeRunner answers every run with a fixed result or error and records
// the parameters it saw.
type fakeRunner struct {
	result agent.Result
	events []agent.Event
	err    error

	lastParams agent.RunParams
}

func (f *fakeRunner) Run(ctx context.Context, params agent.RunParams) (agent.Result, error) {
	f.lastParams = params
	if f.err != nil {
		return agent.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) RunStream(ctx context.Context, params agent.RunParams) <-chan agent.Event {
	f.lastParams = params
	events := make(chan agent.Event, len(f.events))
	for _, ev := range f.events {
		events <- ev
	}
	close(events)
	return events
}

type fakeToolSource struct {
	descriptors []translator.ToolDescriptor
}

func (f *fakeToolSource) Aggregate(allowed []string) []translator.ToolDescriptor {
	return f.descriptors
}

func (f *fakeToolSource) Dispatch(ctx context.Context, inv translator.Invocation) translator.Result {
	return translator.Result{ID: inv.ID, Output: "ok"}
}

func completeResult(content string) agent.Result {
	msg := agent.Message{Role: "assistant", Content: content}
	return agent.Result{
		Outcome:  agent.OutcomeComplete,
		Message:  msg,
		Messages: []agent.Message{{Role: "user", Content: "hi"}, msg},
		Usage:    &agent.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.Runner == nil {
		cfg.Runner = &fakeRunner{result: completeResult("hello")}
	}
	if cfg.Tools == nil {
		cfg.Tools = &fakeToolSource{}
	}
	cfg.Logger = zerolog.Nop()

	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func completionBody(t *testing.T, req CompletionRequest) *bytes.Reader {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(payload)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Runner: &fakeRunner{}, Tools: &fakeToolSource{}})
	assert.ErrorContains(t, err, "invalid port")

	_, err = NewServer(Config{Port: 8000, Tools: &fakeToolSource{}})
	assert.ErrorContains(t, err, "runner is required")

	_, err = NewServer(Config{Port: 8000, Runner: &fakeRunner{}})
	assert.ErrorContains(t, err, "tool source is required")
}

func TestCompletions(t *testing.T) {
	runner := &fakeRunner{result: completeResult("The answer is 4")}
	s := newTestServer(t, Config{Runner: runner})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/completions", "application/json",
		completionBody(t, CompletionRequest{
			Messages:     []agent.Message{{Role: "user", Content: "Calculate 2+2"}},
			AllowedTools: []string{"calculate"},
		}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body CompletionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, agent.OutcomeComplete, body.Outcome)
	assert.Equal(t, "The answer is 4", body.Message.Content)
	assert.Equal(t, 10, body.Usage.InputTokens)

	assert.Equal(t, []string{"calculate"}, runner.lastParams.AllowedTools)
}

func TestCompletionsRejectsEmptyMessages(t *testing.T) {
	s := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/completions", "application/json",
		completionBody(t, CompletionRequest{}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "messages cannot be empty")
}

func TestCompletionsMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/completions")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCompletionsRunFailure(t *testing.T) {
	s := newTestServer(t, Config{Runner: &fakeRunner{err: assert.AnError}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/completions", "application/json",
		completionBody(t, CompletionRequest{
			Messages: []agent.Message{{Role: "user", Content: "hi"}},
		}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCompletionsRejectedDuringShutdown(t *testing.T) {
	s := newTestServer(t, Config{})
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/completions", "application/json",
		completionBody(t, CompletionRequest{
			Messages: []agent.Message{{Role: "user", Content: "hi"}},
		}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCompletionsStreaming(t *testing.T) {
	final := completeResult("The answer is 4")
	runner := &fakeRunner{events: []agent.Event{
		{Type: agent.EventContentDelta, Delta: "The answer"},
		{Type: agent.EventContentDelta, Delta: " is 4"},
		{Type: agent.EventComplete, Final: &final},
	}}
	s := newTestServer(t, Config{Runner: runner})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/completions", "application/json",
		completionBody(t, CompletionRequest{
			Messages: []agent.Message{{Role: "user", Content: "Calculate 2+2"}},
			Stream:   true,
		}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 4)
	assert.Equal(t, "data: [DONE]", lines[3])

	var first agent.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[0], "data: ")), &first))
	assert.Equal(t, agent.EventContentDelta, first.Type)
	assert.Equal(t, "The answer", first.Delta)

	var last agent.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &last))
	assert.Equal(t, agent.EventComplete, last.Type)
	require.NotNil(t, last.Final)
	assert.Equal(t, "The answer is 4", last.Final.Message.Content)
}

func TestTools(t *testing.T) {
	s := newTestServer(t, Config{Tools: &fakeToolSource{descriptors: []translator.ToolDescriptor{
		{Name: "calculate", Description: "Arithmetic.", Origin: translator.OriginLocal},
		{Name: "read_file", Description: "Reads files.", Origin: translator.OriginRemote, Server: "files"},
	}}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tools")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body ToolListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tools, 2)
	assert.Equal(t, "calculate", body.Tools[0].Name)
	assert.Equal(t, "local", body.Tools[0].Origin)
	assert.Equal(t, "read_file", body.Tools[1].Name)
	assert.Equal(t, "files", body.Tools[1].Server)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, Config{APIKey: "sk-test-key"})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// No key.
	resp, err := http.Get(ts.URL + "/v1/tools")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/tools", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct key.
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/tools", nil)
	req.Header.Set("X-API-Key", "sk-test-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open.
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	s := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tools")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthVerify(t *testing.T) {
	a := NewAuthHandler("secret")
	assert.True(t, a.Enabled())
	assert.True(t, a.Verify("secret"))
	assert.False(t, a.Verify("nope"))
	assert.False(t, a.Verify(""))

	open := NewAuthHandler("")
	assert.False(t, open.Enabled())
	assert.True(t, open.Verify("anything"))
}

func TestWebSocket(t *testing.T) {
	final := completeResult("hello there")
	runner := &fakeRunner{events: []agent.Event{
		{Type: agent.EventContentDelta, Delta: "hello there"},
		{Type: agent.EventComplete, Final: &final},
	}}
	s := newTestServer(t, Config{Runner: runner})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(CompletionRequest{
		Messages: []agent.Message{{Role: "user", Content: "hi"}},
	}))

	var first agent.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, agent.EventContentDelta, first.Type)

	var last agent.Event
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, agent.EventComplete, last.Type)
	require.NotNil(t, last.Final)
	assert.Equal(t, "hello there", last.Final.Message.Content)
}

func TestStopDrainsAfterWebSocketRun(t *testing.T) {
	final := completeResult("done")
	runner := &fakeRunner{events: []agent.Event{
		{Type: agent.EventComplete, Final: &final},
	}}
	s := newTestServer(t, Config{Runner: runner})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(CompletionRequest{
		Messages: []agent.Message{{Role: "user", Content: "hi"}},
	}))

	var ev agent.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, agent.EventComplete, ev.Type)

	// A finished run leaves no in-flight count behind, so Stop must not
	// wait out its drain timeout.
	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on a completed websocket run")
	}
}

func TestWebSocketEmptyMessages(t *testing.T) {
	s := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(CompletionRequest{}))

	var ev agent.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, agent.EventError, ev.Type)
	assert.Contains(t, ev.Error, "messages")
}
