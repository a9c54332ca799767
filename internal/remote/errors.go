package remote

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/webpilot/pkg/protocol"
)

var (
	// ErrNotConnected is returned synchronously by Send when no actuator is attached.
	ErrNotConnected = errors.New(protocol.ErrMsgNotConnected)

	// ErrRemoteTimeout is returned when a pending request gets no reply within the window.
	ErrRemoteTimeout = errors.New(protocol.ErrMsgTimeout)

	// ErrSuperseded fails requests still pending on a connection that was replaced.
	ErrSuperseded = errors.New(protocol.ErrMsgSuperseded)
)

// CommandError is an {id, error} reply from the actuator.
type CommandError struct {
	ID      int64
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("actuator %s (id=%d): %s", e.Command, e.ID, e.Message)
}
