package agent

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/webpilot/internal/providers"
)

// Conversation is the append-only message log of one run.
type Conversation struct {
	System string
	Tools  []providers.ToolDefinition

	messages []providers.Message
	pending  map[string]bool // tool call ids awaiting a result
}

// NewConversation seeds a conversation with the mission as the first user turn.
func NewConversation(system, mission string, defs []providers.ToolDefinition) *Conversation {
	c := &Conversation{
		System:  system,
		Tools:   defs,
		pending: make(map[string]bool),
	}
	c.messages = append(c.messages, providers.Message{
		Role:      "user",
		Content:   mission,
		Timestamp: time.Now(),
	})
	return c
}

// Append adds a user or assistant message. Tool calls of an assistant
// message become pending until their results are appended.
func (c *Conversation) Append(m providers.Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	for _, tc := range m.ToolCalls {
		c.pending[tc.ID] = true
	}
	c.messages = append(c.messages, m)
}

// AppendToolResult adds a tool message. It fails when no preceding
// assistant message requested that call id.
func (c *Conversation) AppendToolResult(m providers.Message) error {
	if !c.pending[m.ToolCallID] {
		return fmt.Errorf("tool result %q has no matching tool call", m.ToolCallID)
	}
	delete(c.pending, m.ToolCallID)
	m.Role = "tool"
	c.Append(m)
	return nil
}

// Messages returns a copy of the message log, without the system prompt.
func (c *Conversation) Messages() []providers.Message {
	out := make([]providers.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len is the number of messages, without the system prompt.
func (c *Conversation) Len() int { return len(c.messages) }

// Count returns how many messages have the given role.
func (c *Conversation) Count(role string) int {
	n := 0
	for _, m := range c.messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Request builds the model request: system prompt first, then the log.
func (c *Conversation) Request(model string, opts map[string]interface{}) providers.ChatRequest {
	msgs := make([]providers.Message, 0, len(c.messages)+1)
	msgs = append(msgs, providers.Message{Role: "system", Content: c.System})
	msgs = append(msgs, c.messages...)
	return providers.ChatRequest{
		Messages: msgs,
		Tools:    c.Tools,
		Model:    model,
		Options:  opts,
	}
}
