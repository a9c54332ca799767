package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/webpilot/internal/remote"
)

type fakeSender struct {
	command string
	params  map[string]any
	reply   string
	err     error
}

func (f *fakeSender) Send(_ context.Context, command string, params map[string]any) (json.RawMessage, error) {
	f.command = command
	f.params = params
	return json.RawMessage(f.reply), f.err
}

func (f *fakeSender) Connected() bool { return f.err == nil }

func TestRemoteBackendNotConnected(t *testing.T) {
	ch := remote.NewChannel(remote.WithTimeout(time.Second))
	d := NewDispatcher(NewRemoteBackend(ch))

	start := time.Now()
	_, err := d.Execute(context.Background(), "browser_navigate", map[string]any{"url": "https://example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.ErrorIs(t, err, ErrActuatorUnavailable)
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "must fail without waiting")
}

func TestRemoteBackendStripsPrefix(t *testing.T) {
	s := &fakeSender{reply: `"Clicked"`}
	d := NewDispatcher(NewRemoteBackend(s))

	res, err := d.Execute(context.Background(), "browser_click", map[string]any{"selector": `button:"Go"`})
	require.NoError(t, err)
	assert.Equal(t, "click", s.command)
	assert.Equal(t, `button:"Go"`, s.params["selector"])
	assert.Equal(t, "Clicked", res.Text)
}

func TestRemoteBackendCommandError(t *testing.T) {
	s := &fakeSender{err: &remote.CommandError{ID: 3, Command: "click", Message: "no such element"}}
	d := NewDispatcher(NewRemoteBackend(s))

	_, err := d.Execute(context.Background(), "browser_click", map[string]any{"selector": "#x"})
	var ce *remote.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "no such element")
}

func TestReshapeReply(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantImg  string
	}{
		{"string", `"Navigated to https://example.com"`, "Navigated to https://example.com", ""},
		{"text object", `{"text":"Clicked"}`, "Clicked", ""},
		{"text and image", `{"text":"Screenshot","image":"iVBORw==","mimeType":"image/jpeg"}`, "Screenshot", "image/jpeg"},
		{"image default mime", `{"text":"Screenshot","image":"iVBORw=="}`, "Screenshot", "image/png"},
		{"other object", `{ "ok": true,  "count": 2 }`, `{"ok":true,"count":2}`, ""},
		{"number", `42`, "42", ""},
		{"array", `[1, 2]`, "[1,2]", ""},
		{"non-string text", `{"text": 5}`, `{"text":5}`, ""},
		{"null", `null`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reshapeReply(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, res.Text)
			if tt.wantImg == "" {
				assert.Nil(t, res.Image)
				return
			}
			require.NotNil(t, res.Image)
			assert.Equal(t, tt.wantImg, res.Image.MimeType)
			assert.Equal(t, "iVBORw==", res.Image.Base64())
		})
	}
}

func TestReshapeReplyBadImage(t *testing.T) {
	_, err := reshapeReply(json.RawMessage(`{"text":"x","image":"%%%"}`))
	assert.Error(t, err)
}
