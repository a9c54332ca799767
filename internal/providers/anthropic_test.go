package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var toolUseStream = []string{
	`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`,
	`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Opening "}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"the page."}}`,
	`{"type":"content_block_stop","index":0}`,
	`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"browser_navigate","input":{}}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"url\": \"https://exa"}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"mple.com\"}"}}`,
	`{"type":"content_block_stop","index":1}`,
	`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":30}}`,
	`{"type":"message_stop"}`,
}

func sseServer(t *testing.T, events []string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if gotBody != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, gotBody)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			var head struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(ev), &head)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, ev)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicChatStreamToolUse(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, toolUseStream, &body)
	p := NewAnthropicProvider("test-key", srv.URL, "claude-test", option.WithMaxRetries(0))

	var chunks []StreamChunk
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "You drive a browser."},
			{Role: "user", Content: "Open example.com"},
		},
		Tools: []ToolDefinition{{
			Type: "function",
			Function: ToolFunctionSchema{
				Name:        "browser_navigate",
				Description: "Navigate",
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"url": map[string]interface{}{"type": "string"}},
					"required":   []string{"url"},
				},
			},
		}},
	}, func(c StreamChunk) { chunks = append(chunks, c) })
	require.NoError(t, err)

	assert.Equal(t, "Opening the page.", resp.Content)
	assert.Equal(t, "tool_use", resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "browser_navigate", resp.ToolCalls[0].Name)
	assert.Equal(t, "https://example.com", resp.ToolCalls[0].Arguments["url"])

	var text strings.Builder
	var toolNames []string
	for _, c := range chunks {
		text.WriteString(c.Content)
		if c.ToolName != "" {
			toolNames = append(toolNames, c.ToolName)
		}
	}
	assert.Equal(t, "Opening the page.", text.String())
	assert.Equal(t, []string{"browser_navigate"}, toolNames)
	assert.True(t, chunks[len(chunks)-1].Done)

	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, true, body["stream"])
	system := body["system"].([]any)
	assert.Equal(t, "You drive a browser.", system[0].(map[string]any)["text"])
	tools := body["tools"].([]any)
	assert.Equal(t, "browser_navigate", tools[0].(map[string]any)["name"])
}

func TestAnthropicBuildParamsMergesToolResults(t *testing.T) {
	p := NewAnthropicProvider("k", "", "")
	params := p.buildParams(ChatRequest{Messages: []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "mission"},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "a", Name: "browser_snapshot", Arguments: map[string]interface{}{}},
			{ID: "b", Name: "browser_screenshot", Arguments: map[string]interface{}{}},
		}},
		{Role: "tool", ToolCallID: "a", Content: "tree"},
		{Role: "tool", ToolCallID: "b", Content: "shot", Images: []ImageContent{{MimeType: "image/png", Data: "AAAA"}}},
		{Role: "assistant"},
		{Role: "user", Content: "You did not call any tool."},
	}})

	require.Len(t, params.Messages, 3)
	assert.Equal(t, "user", string(params.Messages[0].Role))
	assert.Equal(t, "assistant", string(params.Messages[1].Role))
	assert.Len(t, params.Messages[1].Content, 2)

	// both tool results and the nudge land in one user message
	last := params.Messages[2]
	assert.Equal(t, "user", string(last.Role))
	require.Len(t, last.Content, 3)
	require.NotNil(t, last.Content[0].OfToolResult)
	assert.Equal(t, "a", last.Content[0].OfToolResult.ToolUseID)
	require.NotNil(t, last.Content[1].OfToolResult)
	assert.Len(t, last.Content[1].OfToolResult.Content, 2)
	assert.NotNil(t, last.Content[2].OfText)

	assert.Equal(t, anthropicDefaultModel, string(params.Model))
	assert.EqualValues(t, anthropicDefaultMaxTokens, params.MaxTokens)
}

func TestAnthropicErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("bad", srv.URL, "", option.WithMaxRetries(0))
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}
