package gateway

import (
	"github.com/hollis/chassis/pkg/agent"
)

// CompletionRequest is the body of POST /v1/completions.
type CompletionRequest struct {
	Messages      []agent.Message `json:"messages"`
	Model         string          `json:"model,omitempty"`
	SystemPrompt  string          `json:"system_prompt,omitempty"`
	Temperature   float64         `json:"temperature,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	AllowedTools  []string        `json:"allowed_tools,omitempty"`
	MaxIterations int             `json:"max_iterations,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

func (r CompletionRequest) toRunParams() agent.RunParams {
	return agent.RunParams{
		Messages:      r.Messages,
		Model:         r.Model,
		SystemPrompt:  r.SystemPrompt,
		Temperature:   r.Temperature,
		MaxTokens:     r.MaxTokens,
		AllowedTools:  r.AllowedTools,
		MaxIterations: r.MaxIterations,
	}
}

// CompletionResponse is the JSON body of a non-streaming completion.
type CompletionResponse struct {
	ID        string            `json:"id"`
	Outcome   agent.Outcome     `json:"outcome"`
	Message   agent.Message     `json:"message"`
	Messages  []agent.Message   `json:"messages"`
	ToolCalls []agent.ToolCall  `json:"tool_calls,omitempty"`
	Usage     *agent.TokenUsage `json:"usage,omitempty"`
}

// ToolInfo describes one aggregated tool in GET /v1/tools.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
	Origin      string                 `json:"origin"`
	Server      string                 `json:"server,omitempty"`
}

// ToolListResponse is the body of GET /v1/tools.
type ToolListResponse struct {
	Tools []ToolInfo `json:"tools"`
}

// ErrorResponse is the JSON body of every error status.
type ErrorResponse struct {
	Error string `json:"error"`
}
