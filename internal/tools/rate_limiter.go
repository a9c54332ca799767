package tools

import (
	"fmt"
	"sync"
	"time"
)

// ActionLimiter caps how many tool calls one session may make within a
// sliding window, so a looping run cannot hammer a site.
type ActionLimiter struct {
	mu      sync.Mutex
	calls   map[string][]time.Time // session label -> call times, oldest first
	max     int
	window  time.Duration
	nowFunc func() time.Time
}

// NewActionLimiter creates a limiter allowing maxPerHour calls per session.
// Returns nil (no limit) for maxPerHour <= 0; a nil limiter allows everything.
func NewActionLimiter(maxPerHour int) *ActionLimiter {
	if maxPerHour <= 0 {
		return nil
	}
	return &ActionLimiter{
		calls:   make(map[string][]time.Time),
		max:     maxPerHour,
		window:  time.Hour,
		nowFunc: time.Now,
	}
}

// Allow records a call for key, or returns ErrRateLimited when the window
// is full.
func (rl *ActionLimiter) Allow(key string) error {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	live := prune(rl.calls[key], now.Add(-rl.window))
	if len(live) >= rl.max {
		rl.calls[key] = live
		return fmt.Errorf("%w: %d actions per %s for session %s", ErrRateLimited, rl.max, rl.window, key)
	}
	rl.calls[key] = append(live, now)
	return nil
}

// Reset forgets the history of key, e.g. when a session is reused for a
// new batch.
func (rl *ActionLimiter) Reset(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.calls, key)
	rl.mu.Unlock()
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}
