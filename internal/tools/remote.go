package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/webpilot/internal/remote"
)

// RemoteBackend forwards tool calls to an actuator over the command channel.
type RemoteBackend struct {
	sender remote.Sender
}

// NewRemoteBackend creates a backend sending through s.
func NewRemoteBackend(s remote.Sender) *RemoteBackend {
	return &RemoteBackend{sender: s}
}

func (b *RemoteBackend) Kind() string { return "remote" }

func (b *RemoteBackend) Execute(ctx context.Context, call Call) (*Result, error) {
	raw, err := b.sender.Send(ctx, call.Command, call.Args)
	if err != nil {
		return nil, err
	}
	return reshapeReply(raw)
}

// reshapeReply normalizes an actuator result: a string is text; an object
// with "text" (and optionally "image" plus "mimeType") is text and image;
// anything else is reported as compact JSON.
func reshapeReply(raw json.RawMessage) (*Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return NewResult(""), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return NewResult(s), nil
	}

	var obj struct {
		Text     *string `json:"text"`
		Image    string  `json:"image"`
		MimeType string  `json:"mimeType"`
	}
	if raw[0] == '{' && json.Unmarshal(raw, &obj) == nil && obj.Text != nil {
		res := NewResult(*obj.Text)
		if obj.Image != "" {
			data, err := base64.StdEncoding.DecodeString(obj.Image)
			if err != nil {
				return nil, fmt.Errorf("decode actuator image: %w", err)
			}
			mime := obj.MimeType
			if mime == "" {
				mime = "image/png"
			}
			res.Image = &Image{Data: data, MimeType: mime}
		}
		return res, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return NewResult(string(raw)), nil
	}
	return NewResult(buf.String()), nil
}
