package orchestrator

import "errors"

var (
	// ErrNoSessions is returned when missions are submitted with no session to run them.
	ErrNoSessions = errors.New("no browser sessions available")

	// ErrTaskPanicked wraps a panic recovered from a task.
	ErrTaskPanicked = errors.New("task panicked")
)
