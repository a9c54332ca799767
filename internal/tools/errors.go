package tools

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/webpilot/internal/remote"
)

var (
	// ErrUnknownTool is returned for a tool name outside the fixed set.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrActionFailed marks every backend failure; see ActionError.
	ErrActionFailed = errors.New("browser action failed")

	// ErrActuatorUnavailable is returned by the remote backend when no
	// actuator is connected.
	ErrActuatorUnavailable = remote.ErrNotConnected

	// ErrMissingParam is returned when a required parameter is absent.
	ErrMissingParam = errors.New("missing required parameter")

	// ErrRateLimited is returned when a session exceeded its action budget.
	ErrRateLimited = errors.New("tool rate limit exceeded")
)

// ActionError wraps a backend failure of one tool call. It matches both
// ErrActionFailed and the underlying cause with errors.Is.
type ActionError struct {
	Tool string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ActionError) Unwrap() []error {
	return []error{ErrActionFailed, e.Err}
}
