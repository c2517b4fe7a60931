package agent

import (
	"strings"
)

// Message is one role-tagged entry in a conversation. The sequence built
// during a run is append-only.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// TokenUsage tracks token consumption across a run.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Outcome is how a run ended. A run that returns an error has no outcome.
type Outcome string

const (
	// OutcomeComplete means the model produced a final answer.
	OutcomeComplete Outcome = "complete"
	// OutcomeTruncated means the iteration bound was reached first.
	OutcomeTruncated Outcome = "truncated"
)

// RunParams are the inputs for one run. AllowedTools distinguishes nil
// (every tool is available) from an empty slice (no tools at all).
type RunParams struct {
	Messages      []Message `json:"messages"`
	Model         string    `json:"model,omitempty"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Temperature   float64   `json:"temperature,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	AllowedTools  []string  `json:"allowed_tools,omitempty"`
	MaxIterations int       `json:"max_iterations,omitempty"`
}

// Result is the outcome of a run. Messages holds the full conversation
// including tool traffic; on truncation it is the conversation built so far.
type Result struct {
	Outcome   Outcome     `json:"outcome"`
	Message   Message     `json:"message"`
	Messages  []Message   `json:"messages"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

// IsRetryableError reports whether a provider error is worth retrying:
// transient network faults, rate limits, and upstream 5xx responses.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection reset") {
		return true
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}

	return false
}
