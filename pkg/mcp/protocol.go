package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 messages used by the MCP wire protocol
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Tool is a tool definition as advertised by an MCP server.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ContentBlock is one piece of a tool call result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is the result payload of a tools/call request.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Flatten joins the textual content blocks of a result into one string.
// Non-text blocks are summarized by type so no content is silently lost.
func (r *CallResult) Flatten() string {
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s content]", block.Type))
		}
	}
	return strings.Join(parts, "\n")
}

// responseID normalizes a JSON-RPC response id to an int for pending-call
// routing. JSON numbers decode as float64.
func responseID(id interface{}) (int, bool) {
	switch v := id.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
