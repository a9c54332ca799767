package agent

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/webpilot/internal/providers"
	"github.com/nextlevelbuilder/webpilot/internal/tools"
)

// Agent is the core abstraction for a mission execution loop.
// Implemented by *Loop; extracted as an interface for the orchestrator and tests.
type Agent interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	Model() string
}

// ToolExecutor runs tool calls for the loop. Implemented by *tools.Dispatcher.
type ToolExecutor interface {
	Definitions() []providers.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
	Kind() string
}

// Run statuses.
const (
	StatusDone     = "done"
	StatusMaxTurns = "max_turns"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// RunRequest is the input for one mission.
type RunRequest struct {
	RunID    string // generated when empty
	Label    string // session label, used in logs and events
	Mission  string
	MaxTurns int
}

// RunResult is the outcome of a run. It is returned for every terminal
// status, including max turns and provider failures.
type RunResult struct {
	RunID        string
	Label        string
	Mission      string
	Status       string
	Content      string // final assistant text when Status is done
	Turns        int    // model calls made
	ToolCalls    int
	Usage        providers.Usage
	Conversation *Conversation
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration is the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
