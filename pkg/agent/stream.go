package agent

import (
	"context"
	"time"

	"github.com/hollis/chassis/pkg/translator"
)

// EventType identifies one kind of streaming event.
type EventType string

const (
	// EventContentDelta carries a fragment of assistant text.
	EventContentDelta EventType = "content_delta"
	// EventToolCallStarted announces a tool invocation before it runs.
	EventToolCallStarted EventType = "tool_call_started"
	// EventToolResult carries the outcome of one tool invocation.
	EventToolResult EventType = "tool_result"
	// EventComplete is terminal: the model produced a final answer.
	EventComplete EventType = "complete"
	// EventTruncated is terminal: the iteration bound was reached.
	EventTruncated EventType = "truncated"
	// EventError is terminal: the run failed.
	EventError EventType = "error"
)

// Event is one entry in a run's event stream. Exactly one terminal event
// (complete, truncated, or error) ends every stream, and the channel is
// closed after it.
type Event struct {
	Type     EventType          `json:"type"`
	Delta    string             `json:"delta,omitempty"`
	ToolCall *ToolCall          `json:"tool_call,omitempty"`
	Result   *translator.Result `json:"result,omitempty"`
	Final    *Result            `json:"final,omitempty"`
	Error    string             `json:"error,omitempty"`
}

const streamBufferSize = 64

// streamHooks adapts the shared loop to an event channel. Each method
// reports whether the consumer is still listening.
type streamHooks struct {
	ctx    context.Context
	events chan<- Event
}

func (h *streamHooks) send(ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *streamHooks) contentDelta(text string) {
	h.send(Event{Type: EventContentDelta, Delta: text})
}

func (h *streamHooks) toolCallStarted(tc ToolCall) bool {
	call := tc
	return h.send(Event{Type: EventToolCallStarted, ToolCall: &call})
}

func (h *streamHooks) toolResult(tc ToolCall, res translator.Result) bool {
	call := tc
	result := res
	return h.send(Event{Type: EventToolResult, ToolCall: &call, Result: &result})
}

// RunStream executes the same loop as Run but returns a channel of ordered
// events. The channel is closed after its single terminal event on every
// exit path, including cancellation.
func (r *Runner) RunStream(ctx context.Context, params RunParams) <-chan Event {
	if ctx == nil {
		ctx = context.Background()
	}

	events := make(chan Event, streamBufferSize)
	hooks := &streamHooks{ctx: ctx, events: events}

	go func() {
		defer close(events)

		done := r.metrics.RunStarted()
		defer done()

		start := time.Now()
		result, err := r.execute(ctx, params, hooks)
		if err != nil {
			r.metrics.RecordRun(r.provider.Name(), time.Since(start), "failed")
			hooks.send(Event{Type: EventError, Error: err.Error()})
			return
		}

		r.metrics.RecordRun(r.provider.Name(), time.Since(start), string(result.Outcome))

		terminal := EventComplete
		if result.Outcome == OutcomeTruncated {
			terminal = EventTruncated
		}
		hooks.send(Event{Type: terminal, Final: &result})
	}()

	return events
}
