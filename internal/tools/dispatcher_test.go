package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records calls and answers with fn.
type fakeBackend struct {
	calls []Call
	fn    func(Call) (*Result, error)
}

func (f *fakeBackend) Kind() string { return "fake" }

func (f *fakeBackend) Execute(_ context.Context, call Call) (*Result, error) {
	f.calls = append(f.calls, call)
	if f.fn != nil {
		return f.fn(call)
	}
	return NewResult("ok"), nil
}

func TestDispatcherUnknownTool(t *testing.T) {
	b := &fakeBackend{}
	d := NewDispatcher(b)

	_, err := d.Execute(context.Background(), "browser_teleport", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.NotErrorIs(t, err, ErrActionFailed)
	assert.Empty(t, b.calls)
}

func TestDispatcherRoutesCommand(t *testing.T) {
	b := &fakeBackend{}
	d := NewDispatcher(b)

	res, err := d.Execute(context.Background(), "browser_get_text", map[string]any{"selector": "h1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	require.Len(t, b.calls, 1)
	assert.Equal(t, "get_text", b.calls[0].Command)
	assert.Equal(t, "browser_get_text", b.calls[0].Tool)
	assert.Equal(t, "h1", b.calls[0].Str("selector"))
}

func TestDispatcherMissingRequiredParam(t *testing.T) {
	b := &fakeBackend{}
	d := NewDispatcher(b)

	_, err := d.Execute(context.Background(), "browser_fill", map[string]any{"value": "shoes"})
	assert.ErrorIs(t, err, ErrMissingParam)
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Empty(t, b.calls)
}

func TestDispatcherFillEmptyValueClears(t *testing.T) {
	b := &fakeBackend{}
	d := NewDispatcher(b)

	_, err := d.Execute(context.Background(), "browser_fill", map[string]any{"selector": "#q", "value": ""})
	require.NoError(t, err)
	require.Len(t, b.calls, 1)
	assert.Equal(t, "", b.calls[0].Str("value"))

	fill, ok := Lookup("browser_fill")
	require.True(t, ok)
	for _, p := range fill.Params {
		if p.Name == "value" {
			assert.False(t, p.Required)
		}
	}
}

func TestDispatcherWrapsBackendError(t *testing.T) {
	cause := errors.New("element not found")
	d := NewDispatcher(&fakeBackend{fn: func(Call) (*Result, error) { return nil, cause }})

	_, err := d.Execute(context.Background(), "browser_click", map[string]any{"selector": "#missing"})
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "browser_click", ae.Tool)
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "browser_click: element not found", err.Error())
}

func TestDispatcherScrubsAndTruncates(t *testing.T) {
	long := strings.Repeat("é", maxResultText)
	d := NewDispatcher(&fakeBackend{fn: func(c Call) (*Result, error) {
		if c.Command == "evaluate" {
			return NewResult("api_key=sk-abcdefghijklmnopqrstuvwxyz123456"), nil
		}
		return NewResult(long), nil
	}})

	res, err := d.Execute(context.Background(), "browser_evaluate", map[string]any{"script": "x"})
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "sk-abc")
	assert.Contains(t, res.Text, redactedPlaceholder)

	res, err = d.Execute(context.Background(), "browser_get_text", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Text, "...[truncated]"))
	assert.LessOrEqual(t, len(res.Text), maxResultText+len("\n...[truncated]"))
	assert.True(t, strings.HasPrefix(res.Text, "é"))
}

func TestDispatcherScrubbingDisabled(t *testing.T) {
	secret := "password=hunter2hunter2"
	d := NewDispatcher(&fakeBackend{fn: func(Call) (*Result, error) { return NewResult(secret), nil }}, WithScrubbing(false))
	res, err := d.Execute(context.Background(), "browser_get_text", nil)
	require.NoError(t, err)
	assert.Equal(t, secret, res.Text)
}

func TestDispatcherActionLimiter(t *testing.T) {
	b := &fakeBackend{}
	d := NewDispatcher(b, WithActionLimiter(NewActionLimiter(2), "s0"))
	ctx := context.Background()

	for range 2 {
		_, err := d.Execute(ctx, "browser_snapshot", nil)
		require.NoError(t, err)
	}
	_, err := d.Execute(ctx, "browser_snapshot", nil)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, b.calls, 2)
}

func TestArgString(t *testing.T) {
	assert.Equal(t, "5000", argString(float64(5000)))
	assert.Equal(t, "1.5", argString(1.5))
	assert.Equal(t, "true", argString(true))
	assert.Equal(t, "", argString(nil))
	assert.Equal(t, `["a"]`, argString([]any{"a"}))
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 14)
	assert.Equal(t, Names()[0], defs[0].Function.Name)

	for _, def := range defs {
		assert.True(t, strings.HasPrefix(def.Function.Name, "browser_"), def.Function.Name)
		props := def.Function.Parameters["properties"].(map[string]interface{})
		for name, p := range props {
			assert.Equal(t, "string", p.(map[string]interface{})["type"], "%s.%s", def.Function.Name, name)
		}
	}

	wait, ok := Lookup("browser_wait")
	require.True(t, ok)
	var names []string
	for _, p := range wait.Params {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"timeMs", "text", "textGone", "selector"}, names)
	assert.Equal(t, "wait", wait.Command())
}
