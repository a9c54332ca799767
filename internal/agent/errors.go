package agent

import (
	"errors"
	"fmt"
)

// ErrMaxTurnsExceeded is returned when a run spends its turn budget
// without a final answer.
var ErrMaxTurnsExceeded = errors.New("max turns exceeded")

// ModelClientError wraps a provider failure. It aborts the run it happened in.
type ModelClientError struct {
	Provider string
	Turn     int
	Err      error
}

func (e *ModelClientError) Error() string {
	return fmt.Sprintf("model client %s (turn %d): %v", e.Provider, e.Turn, e.Err)
}

func (e *ModelClientError) Unwrap() error { return e.Err }
