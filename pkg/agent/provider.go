package agent

import (
	"context"
	"fmt"

	"github.com/hollis/chassis/pkg/translator"
)

// Provider is a connector to one model inference API. The runner treats it
// as opaque: it sends a conversation plus tool descriptors and gets back
// text and zero or more tool calls.
type Provider interface {
	// Call makes a single blocking model request.
	Call(ctx context.Context, req Request) (*Response, error)

	// Stream makes a model request and invokes onDelta for each text
	// fragment as it arrives. The returned Response carries the full
	// accumulated message, identical in shape to a Call result.
	Stream(ctx context.Context, req Request, onDelta func(text string)) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []translator.ToolDescriptor
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response is one model turn.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// NewProvider builds a provider by name. The base URL is only honored by
// the openai provider, where it points at any compatible endpoint.
func NewProvider(name, apiKey, baseURL string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
