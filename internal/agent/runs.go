package agent

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ActiveRun tracks a running mission so it can be stopped from the CLI.
type ActiveRun struct {
	RunID     string
	Label     string
	Mission   string
	StartedAt time.Time

	stopped atomic.Bool
}

// Stop marks the run stopped. The loop reads the flag at the top of each turn;
// a tool call already in flight finishes first.
func (r *ActiveRun) Stop() { r.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (r *ActiveRun) Stopped() bool { return r.stopped.Load() }

// RunInfo is lightweight metadata about an active run.
type RunInfo struct {
	RunID     string    `json:"runId"`
	Label     string    `json:"label"`
	Mission   string    `json:"mission"`
	StartedAt time.Time `json:"startedAt"`
	Stopping  bool      `json:"stopping"`
}

// Runs is the registry of active runs. A nil *Runs tracks nothing but still
// hands out usable run handles.
type Runs struct {
	active sync.Map // runID → *ActiveRun
}

// NewRuns creates an empty registry.
func NewRuns() *Runs {
	return &Runs{}
}

// RegisterRun records an active run and returns its handle.
func (r *Runs) RegisterRun(runID, label, mission string) *ActiveRun {
	run := &ActiveRun{
		RunID:     runID,
		Label:     label,
		Mission:   mission,
		StartedAt: time.Now(),
	}
	if r != nil {
		r.active.Store(runID, run)
	}
	return run
}

// UnregisterRun removes a finished run from tracking.
func (r *Runs) UnregisterRun(runID string) {
	if r == nil {
		return
	}
	r.active.Delete(runID)
}

// StopRun marks a single run stopped. Returns true if the run was found.
func (r *Runs) StopRun(runID string) bool {
	if r == nil {
		return false
	}
	val, ok := r.active.Load(runID)
	if !ok {
		return false
	}
	val.(*ActiveRun).Stop()
	return true
}

// StopRunsForSession stops every active run on a session label.
// Returns the stopped run IDs.
func (r *Runs) StopRunsForSession(label string) []string {
	return r.stopWhere(func(run *ActiveRun) bool { return run.Label == label })
}

// StopAll stops every active run. Returns the stopped run IDs.
func (r *Runs) StopAll() []string {
	return r.stopWhere(func(*ActiveRun) bool { return true })
}

func (r *Runs) stopWhere(match func(*ActiveRun) bool) []string {
	if r == nil {
		return nil
	}
	var stopped []string
	r.active.Range(func(_, val any) bool {
		run := val.(*ActiveRun)
		if match(run) {
			run.Stop()
			stopped = append(stopped, run.RunID)
		}
		return true
	})
	sort.Strings(stopped)
	return stopped
}

// List returns the active runs, oldest first.
func (r *Runs) List() []RunInfo {
	if r == nil {
		return nil
	}
	var infos []RunInfo
	r.active.Range(func(_, val any) bool {
		run := val.(*ActiveRun)
		infos = append(infos, RunInfo{
			RunID:     run.RunID,
			Label:     run.Label,
			Mission:   run.Mission,
			StartedAt: run.StartedAt,
			Stopping:  run.Stopped(),
		})
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}
