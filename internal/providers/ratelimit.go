package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider spaces out model calls with a token bucket shared by
// every run using the provider. Calls wait for a token instead of failing.
type RateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so it makes at most rpm calls per minute with the
// given burst. rpm <= 0 returns p unchanged.
func WithRateLimit(p Provider, rpm, burst int) Provider {
	if rpm <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
	}
}

func (r *RateLimitedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", r.Name(), err)
	}
	return r.Provider.Chat(ctx, req)
}

func (r *RateLimitedProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", r.Name(), err)
	}
	return r.Provider.ChatStream(ctx, req, onChunk)
}
