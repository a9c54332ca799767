// Package store persists mission history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/webpilot/internal/agent"
)

// ErrNotFound is returned when a run is not in the history.
var ErrNotFound = errors.New("run not found")

// RunRecord is one settled mission.
type RunRecord struct {
	ID               uuid.UUID `json:"id"`
	RunID            string    `json:"run_id"`
	Batch            string    `json:"batch,omitempty"` // empty for single runs
	Index            int       `json:"index"`
	Label            string    `json:"label"`
	Mission          string    `json:"mission"`
	Status           string    `json:"status"`
	Content          string    `json:"content,omitempty"`
	Error            string    `json:"error,omitempty"`
	Turns            int       `json:"turns"`
	ToolCalls        int       `json:"tool_calls"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ListOptions filters List.
type ListOptions struct {
	Status string
	Batch  string
	Limit  int // default 20
}

// RunStore is the history backend.
type RunStore interface {
	Record(ctx context.Context, rec RunRecord) error
	Get(ctx context.Context, runID string) (*RunRecord, error)
	List(ctx context.Context, opts ListOptions) ([]RunRecord, error)
	Search(ctx context.Context, query string, limit int) ([]RunRecord, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	Close() error
}

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewRecord converts a run outcome into a history record. res may be nil
// when the run never started.
func NewRecord(batch string, index int, label, mission string, res *agent.RunResult, err error) RunRecord {
	rec := RunRecord{
		ID:      GenNewID(),
		Batch:   batch,
		Index:   index,
		Label:   label,
		Mission: mission,
		Status:  agent.StatusFailed,
	}
	if res != nil {
		rec.RunID = res.RunID
		rec.Status = res.Status
		rec.Content = res.Content
		rec.Turns = res.Turns
		rec.ToolCalls = res.ToolCalls
		rec.PromptTokens = res.Usage.PromptTokens
		rec.CompletionTokens = res.Usage.CompletionTokens
		rec.StartedAt = res.StartedAt
		rec.FinishedAt = res.FinishedAt
	}
	if rec.RunID == "" {
		rec.RunID = rec.ID.String()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
