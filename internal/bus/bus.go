package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus closed")

// Mission is a task submitted for an agent run.
type Mission struct {
	Text      string
	Submitted time.Time
}

// Event is a run or actuator lifecycle notification.
type Event struct {
	Name    string         `json:"name"`
	RunID   string         `json:"runId,omitempty"`
	Session string         `json:"session,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Time    time.Time      `json:"time"`
}

// EventHandler receives broadcast events. Handlers must not block.
type EventHandler func(Event)

// Bus queues submitted missions and broadcasts events to subscribers.
type Bus struct {
	missions chan Mission
	done     chan struct{}
	once     sync.Once

	subscribers map[string]EventHandler
	subMu       sync.RWMutex
}

// New creates a bus whose mission queue holds up to queueSize entries.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Bus{
		missions:    make(chan Mission, queueSize),
		done:        make(chan struct{}),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishMission queues a mission, blocking while the queue is full.
func (b *Bus) PublishMission(ctx context.Context, m Mission) error {
	if m.Submitted.IsZero() {
		m.Submitted = time.Now()
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.missions <- m:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeMission blocks until a mission is available, the bus is closed
// or ctx is cancelled.
func (b *Bus) ConsumeMission(ctx context.Context) (Mission, bool) {
	select {
	case m := <-b.missions:
		return m, true
	case <-b.done:
		return Mission{}, false
	case <-ctx.Done():
		return Mission{}, false
	}
}

// Subscribe registers an event handler under id, replacing any previous one.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes an event handler.
func (b *Bus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to every subscriber. A nil bus drops it.
func (b *Bus) Broadcast(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, h := range b.subscribers {
		h(ev)
	}
}

// Close stops mission delivery. Pending missions are dropped.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}
