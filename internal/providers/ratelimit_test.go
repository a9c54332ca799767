package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct{ calls int }

func (c *countingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	c.calls++
	return &ChatResponse{Content: "ok"}, nil
}

func (c *countingProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	return c.Chat(ctx, req)
}

func (c *countingProvider) Name() string         { return "counting" }
func (c *countingProvider) DefaultModel() string { return "m" }

func TestWithRateLimitDisabled(t *testing.T) {
	inner := &countingProvider{}
	assert.Same(t, Provider(inner), WithRateLimit(inner, 0, 0))
}

func TestWithRateLimitSpacesCalls(t *testing.T) {
	inner := &countingProvider{}
	p := WithRateLimit(inner, 600, 1) // one call per 100ms

	start := time.Now()
	for range 3 {
		_, err := p.ChatStream(context.Background(), ChatRequest{}, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRateLimitHonorsContext(t *testing.T) {
	inner := &countingProvider{}
	p := WithRateLimit(inner, 1, 1)
	_, err := p.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Chat(ctx, ChatRequest{})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
