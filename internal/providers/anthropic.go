package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicDefaultModel     = "claude-sonnet-4-5"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider talks to the Anthropic Messages API. Every call streams;
// Chat simply drops the chunks.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// NewAnthropicProvider creates a provider. apiBase and defaultModel may be
// empty; extra options are appended after the defaults.
func NewAnthropicProvider(apiKey, apiBase, defaultModel string, extra ...option.RequestOption) *AnthropicProvider {
	if defaultModel == "" {
		defaultModel = anthropicDefaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(2)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	opts = append(opts, extra...)
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
		maxTokens:    anthropicDefaultMaxTokens,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.ChatStream(ctx, req, nil)
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	params := p.buildParams(req)

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var msg anthropic.Message
	for stream.Next() {
		ev := stream.Current()
		if err := msg.Accumulate(ev); err != nil {
			return nil, fmt.Errorf("anthropic: accumulate stream: %w", err)
		}
		if onChunk == nil {
			continue
		}
		switch e := ev.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if e.ContentBlock.Type == "tool_use" {
				onChunk(StreamChunk{ToolName: e.ContentBlock.Name})
			}
		case anthropic.ContentBlockDeltaEvent:
			if d, ok := e.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				onChunk(StreamChunk{Content: d.Text})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return toChatResponse(&msg)
}

func (p *AnthropicProvider) buildParams(req ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(OptInt(req.Options, "max_tokens", p.maxTokens)),
	}
	if t, ok := OptFloat(req.Options, "temperature"); ok {
		params.Temperature = anthropic.Float(t)
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "user":
			if m.Content != "" {
				params.Messages = appendMessage(params.Messages, anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
			}
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			// the API rejects empty assistant turns; the neighbouring user
			// messages are merged instead
			if len(blocks) > 0 {
				params.Messages = appendMessage(params.Messages, anthropic.MessageParamRoleAssistant, blocks...)
			}
		case "tool":
			params.Messages = appendMessage(params.Messages, anthropic.MessageParamRoleUser, toolResultBlock(m))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	for _, t := range CleanToolSchemas(p.Name(), req.Tools) {
		tool := anthropic.ToolParam{
			Name:        t.Function.Name,
			Description: anthropic.String(t.Function.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Function.Parameters["properties"],
				Required:   requiredList(t.Function.Parameters["required"]),
			},
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params
}

// appendMessage merges consecutive same-role blocks into one message, as
// the API requires alternating roles.
func appendMessage(msgs []anthropic.MessageParam, role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) []anthropic.MessageParam {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
		return msgs
	}
	return append(msgs, anthropic.MessageParam{Role: role, Content: blocks})
}

func toolResultBlock(m Message) anthropic.ContentBlockParamUnion {
	text := m.Content
	if text == "" {
		text = "(no output)"
	}
	b := anthropic.ToolResultBlockParam{
		ToolUseID: m.ToolCallID,
		Content: []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: text}},
		},
	}
	if m.IsError {
		b.IsError = anthropic.Bool(true)
	}
	for _, img := range m.Images {
		b.Content = append(b.Content, anthropic.ToolResultBlockParamContentUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfBase64: &anthropic.Base64ImageSourceParam{
						Data:      img.Data,
						MediaType: anthropic.Base64ImageSourceMediaType(img.MimeType),
					},
				},
			},
		})
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &b}
}

func requiredList(v interface{}) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []interface{}:
		out := make([]string, 0, len(r))
		for _, s := range r {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func toChatResponse(msg *anthropic.Message) (*ChatResponse, error) {
	resp := &ChatResponse{
		FinishReason: string(msg.StopReason),
		Usage: &Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]interface{}{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: decode input of %s: %w", b.Name, err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	resp.Content = text.String()
	return resp, nil
}

// StatusCode extracts the HTTP status of a provider API error, or 0.
func StatusCode(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
