package protocol

// Error messages shared by webpilot and actuators. Actuators are free to send
// any message; these are the ones webpilot itself produces.
const (
	ErrMsgNotConnected = "not connected: no actuator attached"
	ErrMsgTimeout      = "remote command timed out"
	ErrMsgSuperseded   = "actuator connection superseded"
	ErrMsgUnknownCmd   = "unknown command"
)
