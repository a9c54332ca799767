// Package protocol defines the wire format spoken between webpilot and a
// remote actuator (typically a browser extension) over one websocket.
// This package is importable by actuator implementations written in Go.
package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// CommandPrefix is stripped from tool names to form actuator command names
// (browser_click → click).
const CommandPrefix = "browser_"

// CommandFrame is sent by webpilot to the actuator.
type CommandFrame struct {
	ID      int64          `json:"id"`      // correlation id, monotonic per process
	Command string         `json:"command"` // e.g. "navigate", "click"
	Params  map[string]any `json:"params"`
}

// ReplyFrame is sent by the actuator in answer to a CommandFrame.
// Exactly one of Result or Error is meaningful.
type ReplyFrame struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// ErrMissingID is returned by ParseReply when the frame carries no id.
var ErrMissingID = errors.New("reply frame has no id")

// NewCommand builds a command frame. Nil params are sent as an empty object.
func NewCommand(id int64, command string, params map[string]any) *CommandFrame {
	if params == nil {
		params = map[string]any{}
	}
	return &CommandFrame{ID: id, Command: command, Params: params}
}

// NewResultReply creates a success reply. Used by Go actuators and tests.
func NewResultReply(id int64, result any) (*ReplyFrame, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &ReplyFrame{ID: id, Result: raw}, nil
}

// NewErrorReply creates a failure reply.
func NewErrorReply(id int64, message string) *ReplyFrame {
	return &ReplyFrame{ID: id, Error: &message}
}

// IsError reports whether the reply rejects its command.
func (r *ReplyFrame) IsError() bool {
	return r.Error != nil
}

// ParseReply decodes a reply frame from raw websocket bytes.
func ParseReply(data []byte) (*ReplyFrame, error) {
	var raw struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *string         `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.ID == nil {
		return nil, ErrMissingID
	}
	return &ReplyFrame{ID: *raw.ID, Result: raw.Result, Error: raw.Error}, nil
}

// CommandName maps a tool name to the actuator command name.
func CommandName(tool string) string {
	return strings.TrimPrefix(tool, CommandPrefix)
}
