// Package remote implements the request/response channel to a single remote
// actuator (typically a browser extension) reachable over one websocket.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/webpilot/pkg/protocol"
)

// DefaultTimeout is how long a command waits for its reply.
const DefaultTimeout = 60 * time.Second

// Transport is one live connection to an actuator.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Sender is the narrow view of a Channel used by the remote tool backend.
type Sender interface {
	Send(ctx context.Context, command string, params map[string]any) (json.RawMessage, error)
	Connected() bool
}

type reply struct {
	result json.RawMessage
	err    error
}

// pendingRequest is a command awaiting its reply. epoch ties it to the
// connection it was written to.
type pendingRequest struct {
	command string
	epoch   uint64
	done    chan reply // buffered(1): resolved exactly once
}

// Channel tracks the single active actuator connection and the table of
// pending requests. The most recently attached transport wins.
type Channel struct {
	mu      sync.Mutex
	active  Transport
	epoch   uint64
	nextID  int64
	pending map[int64]*pendingRequest

	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithTimeout overrides the reply window (default 60s).
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// NewChannel creates a channel with no actuator attached.
func NewChannel(opts ...Option) *Channel {
	c := &Channel{
		pending: make(map[int64]*pendingRequest),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Attach makes t the active actuator connection and returns its epoch.
// A previously active transport is closed, and every request still pending
// from earlier connections is failed with ErrSuperseded.
func (c *Channel) Attach(t Transport) uint64 {
	c.mu.Lock()
	prev := c.active
	c.epoch++
	epoch := c.epoch
	c.active = t

	var stale []*pendingRequest
	for id, p := range c.pending {
		if p.epoch != epoch {
			stale = append(stale, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
		c.logger.Info("actuator connection superseded", "epoch", epoch, "failed_pending", len(stale))
	} else {
		c.logger.Info("actuator connected", "epoch", epoch)
	}
	for _, p := range stale {
		p.done <- reply{err: fmt.Errorf("%s: %w", p.command, ErrSuperseded)}
	}
	return epoch
}

// Disconnect clears the active connection if epoch is still current.
// Pending requests are left to time out individually.
func (c *Channel) Disconnect(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch || c.active == nil {
		return
	}
	c.active = nil
	c.logger.Info("actuator disconnected", "epoch", epoch, "pending", len(c.pending))
}

// Connected reports whether an actuator is attached.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// PendingCount returns the number of requests awaiting a reply.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Send writes {id, command, params} to the actuator and blocks until the
// matching reply, the timeout window, or ctx cancellation.
// With no actuator attached it fails immediately and writes nothing.
func (c *Channel) Send(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	p := &pendingRequest{command: command, epoch: c.epoch, done: make(chan reply, 1)}
	c.pending[id] = p
	transport := c.active
	c.mu.Unlock()

	data, err := json.Marshal(protocol.NewCommand(id, command, params))
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("encode %s: %w", command, err)
	}
	if err := transport.Send(data); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	c.logger.Debug("remote command sent", "id", id, "command", command)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.result, r.err
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("%s (id=%d) after %s: %w", command, id, c.timeout, ErrRemoteTimeout)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// HandleMessage resolves the pending request matching a reply read from the
// connection identified by epoch. Unmatched or malformed replies are dropped.
func (c *Channel) HandleMessage(epoch uint64, data []byte) {
	frame, err := protocol.ParseReply(data)
	if err != nil {
		c.logger.Debug("dropping malformed actuator frame", "error", err)
		return
	}

	c.mu.Lock()
	p, ok := c.pending[frame.ID]
	if ok && p.epoch == epoch {
		delete(c.pending, frame.ID)
	} else {
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping unmatched reply", "id", frame.ID, "epoch", epoch)
		return
	}

	if frame.IsError() {
		p.done <- reply{err: &CommandError{ID: frame.ID, Command: p.command, Message: *frame.Error}}
		return
	}
	result := frame.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	p.done <- reply{result: result}
}

func (c *Channel) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
