package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/webpilot/pkg/browser"
)

func TestDirectBackendWaitDuration(t *testing.T) {
	if testing.Short() {
		t.Skip("waits five seconds")
	}
	d := NewDispatcher(NewDirectBackend(browser.NewSession("s0", nil, nil)))

	start := time.Now()
	res, err := d.Execute(context.Background(), "browser_wait", map[string]any{"timeMs": "5000"})
	require.NoError(t, err)
	assert.Equal(t, "Waited 5000ms", res.Text)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Second)
}

func TestDirectBackendWaitNumericArg(t *testing.T) {
	d := NewDispatcher(NewDirectBackend(browser.NewSession("s0", nil, nil)))
	res, err := d.Execute(context.Background(), "browser_wait", map[string]any{"timeMs": float64(20)})
	require.NoError(t, err)
	assert.Equal(t, "Waited 20ms", res.Text)
}

func TestDirectBackendBadNumber(t *testing.T) {
	d := NewDispatcher(NewDirectBackend(browser.NewSession("s0", nil, nil)))
	_, err := d.Execute(context.Background(), "browser_wait", map[string]any{"timeMs": "soon"})
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Contains(t, err.Error(), "timeMs must be a number")
}

func TestDirectBackendNumberOutOfRange(t *testing.T) {
	d := NewDispatcher(NewDirectBackend(browser.NewSession("s0", nil, nil)))
	for _, v := range []any{"1e30", float64(-1e30), "NaN", "+Inf"} {
		_, err := d.Execute(context.Background(), "browser_wait", map[string]any{"timeMs": v})
		assert.ErrorIs(t, err, ErrActionFailed, "%v", v)
		assert.Contains(t, err.Error(), "timeMs out of range", "%v", v)
	}
}

func TestDirectBackendWaitHugeIntCapped(t *testing.T) {
	d := NewDispatcher(NewDirectBackend(browser.NewSession("s0", nil, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := d.Execute(ctx, "browser_wait", map[string]any{"timeMs": "9999999999999"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDirectBackendNoPage(t *testing.T) {
	d := NewDispatcher(NewDirectBackend(browser.NewSession("s0", nil, nil)))
	_, err := d.Execute(context.Background(), "browser_click", map[string]any{"selector": "#go"})
	assert.ErrorIs(t, err, browser.ErrNoPage)
	assert.ErrorIs(t, err, ErrActionFailed)
}
