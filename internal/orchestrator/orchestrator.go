// Package orchestrator runs a batch of missions over a pool of browser
// sessions. Missions are assigned round-robin; each session runs its
// missions one at a time in assignment order, and sessions run in parallel.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
	"github.com/nextlevelbuilder/webpilot/internal/metrics"
)

// AgentFactory returns the agent that drives missions on a target.
type AgentFactory func(Target) agent.Agent

// LoopAgents binds a shared loop configuration to each target's tools.
func LoopAgents(l *agent.Loop) AgentFactory {
	return func(t Target) agent.Agent { return l.WithTools(t.Tools) }
}

// Outcome is the settled result of one mission.
type Outcome struct {
	Index   int
	Label   string
	Mission string
	Result  *agent.RunResult
	Err     error
}

// Fulfilled reports whether the task settled without error.
func (o Outcome) Fulfilled() bool { return o.Err == nil }

// Report aggregates the outcomes of a batch, ordered by mission index.
type Report struct {
	Outcomes  []Outcome
	Fulfilled int
	Rejected  int
	Duration  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records task outcomes.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOnSettled registers a callback invoked as each task settles.
// It runs on the task's goroutine.
func WithOnSettled(fn func(Outcome)) Option {
	return func(o *Orchestrator) { o.onSettled = fn }
}

// Orchestrator runs missions across sessions.
type Orchestrator struct {
	agents    AgentFactory
	maxTurns  int
	metrics   *metrics.Collector
	logger    *slog.Logger
	onSettled func(Outcome)
}

// New creates an Orchestrator. maxTurns is the per-mission turn budget.
func New(agents AgentFactory, maxTurns int, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		agents:   agents,
		maxTurns: maxTurns,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAll assigns missions to targets and waits until every task settles.
// A failing or panicking task never affects its siblings.
func (o *Orchestrator) RunAll(ctx context.Context, targets []Target, missions []string) (*Report, error) {
	report := &Report{Outcomes: make([]Outcome, len(missions))}
	if len(missions) == 0 {
		return report, nil
	}
	if len(targets) == 0 {
		return nil, ErrNoSessions
	}
	start := time.Now()

	assignments := Assign(targets, missions)
	queues := make([]*sessionQueue, len(targets))
	for i, t := range targets {
		runner := o.agents(t)
		queues[i] = newSessionQueue(t.Label, func(ctx context.Context, a Assignment) (*agent.RunResult, error) {
			return o.runTask(ctx, runner, a)
		})
	}

	o.logger.Info("batch started", "missions", len(missions), "sessions", len(targets))

	// Enqueueing in index order fixes the per-session order.
	pending := make([]<-chan Outcome, len(assignments))
	for i, a := range assignments {
		pending[i] = queues[a.Session].enqueue(ctx, a)
	}
	for i, ch := range pending {
		out := <-ch
		report.Outcomes[i] = out
		if out.Fulfilled() {
			report.Fulfilled++
		} else {
			report.Rejected++
		}
	}

	report.Duration = time.Since(start)
	o.logger.Info("batch finished",
		"fulfilled", report.Fulfilled,
		"rejected", report.Rejected,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (o *Orchestrator) runTask(ctx context.Context, runner agent.Agent, a Assignment) (res *agent.RunResult, err error) {
	o.logger.Info("task started", "index", a.Index, "session", a.Label)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("task panicked", "index", a.Index, "session", a.Label, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
		out := Outcome{Index: a.Index, Label: a.Label, Mission: a.Mission, Result: res, Err: err}
		o.metrics.RecordTask(out.Fulfilled())
		if o.onSettled != nil {
			o.onSettled(out)
		}
		if err != nil {
			o.logger.Warn("task rejected", "index", a.Index, "session", a.Label, "error", err)
		} else if res != nil {
			o.logger.Info("task fulfilled", "index", a.Index, "session", a.Label, "status", res.Status, "turns", res.Turns)
		}
	}()
	return runner.Run(ctx, agent.RunRequest{
		Label:    a.Label,
		Mission:  a.Mission,
		MaxTurns: o.maxTurns,
	})
}
