package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
)

// taskFunc executes one assignment on its session.
type taskFunc func(ctx context.Context, a Assignment) (*agent.RunResult, error)

// pendingTask is a queued assignment awaiting its session.
type pendingTask struct {
	assignment Assignment
	resultCh   chan Outcome
}

// sessionQueue serializes tasks for a single browser session.
// Only one task holds the session at a time; the rest wait in FIFO order.
type sessionQueue struct {
	label string
	runFn taskFunc

	mu        sync.Mutex
	queue     []*pendingTask
	active    bool
	parentCtx context.Context // stored from first enqueue call, used for spawning tasks
}

func newSessionQueue(label string, runFn taskFunc) *sessionQueue {
	return &sessionQueue{label: label, runFn: runFn}
}

// enqueue adds an assignment to the queue and starts it if the session is idle.
// Returns a channel that receives the outcome when the task settles.
func (sq *sessionQueue) enqueue(ctx context.Context, a Assignment) <-chan Outcome {
	outcome := make(chan Outcome, 1)

	sq.mu.Lock()
	defer sq.mu.Unlock()

	if sq.parentCtx == nil {
		sq.parentCtx = ctx
	}
	sq.queue = append(sq.queue, &pendingTask{assignment: a, resultCh: outcome})
	if !sq.active {
		sq.startNext()
	}
	return outcome
}

// startNext picks the first queued task and runs it.
// Must be called with sq.mu held.
func (sq *sessionQueue) startNext() {
	if len(sq.queue) == 0 {
		return
	}
	pending := sq.queue[0]
	sq.queue = sq.queue[1:]
	sq.active = true
	go sq.execute(sq.parentCtx, pending)
}

// execute runs the task and then hands the session to the next one.
func (sq *sessionQueue) execute(ctx context.Context, pending *pendingTask) {
	pending.resultCh <- sq.settle(ctx, pending.assignment)
	close(pending.resultCh)

	sq.mu.Lock()
	sq.active = false
	sq.startNext()
	sq.mu.Unlock()
}

// settle runs one task, converting a panic into a rejected outcome.
func (sq *sessionQueue) settle(ctx context.Context, a Assignment) (out Outcome) {
	out = Outcome{Index: a.Index, Label: a.Label, Mission: a.Mission}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: %v\n%s", ErrTaskPanicked, r, debug.Stack())
		}
	}()
	out.Result, out.Err = sq.runFn(ctx, a)
	return out
}
