package providers

import (
	"context"
	"time"
)

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and calls onChunk for each partial event.
	// The returned response is the same one Chat would return.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// Name returns the provider identifier (e.g. "anthropic").
	Name() string

	// DefaultModel returns the model used when ChatRequest.Model is empty.
	DefaultModel() string
}

// Message is one entry of a conversation.
type Message struct {
	Role       string         `json:"role"` // "system", "user", "assistant", "tool"
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // tool results only
	ToolName   string         `json:"tool_name,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	Images     []ImageContent `json:"images,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitzero"`
}

// ImageContent is a base64 encoded image attached to a message.
type ImageContent struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool in the function-calling shape.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the name, description and JSON Schema of a tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ChatRequest is one model call.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolDefinition
	Model    string
	Options  map[string]interface{} // "max_tokens", "temperature"
}

// ChatResponse is the final result of a model call.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// Usage is token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is a partial event of a streaming call. It carries no
// control meaning; the final ChatResponse is authoritative.
type StreamChunk struct {
	Content  string `json:"content,omitempty"`
	ToolName string `json:"tool_name,omitempty"` // a tool_use block started
	Done     bool   `json:"done,omitempty"`
}

// OptInt reads an integer option, accepting the numeric types JSON and Go
// callers produce.
func OptInt(opts map[string]interface{}, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// OptFloat reads a float option.
func OptFloat(opts map[string]interface{}, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
