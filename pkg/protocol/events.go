package protocol

// Agent event names broadcast on the in-process bus and printed by the CLI.
const (
	AgentEventRunStarted   = "run.started"
	AgentEventRunCompleted = "run.completed"
	AgentEventRunFailed    = "run.failed"
	AgentEventRunStopped   = "run.stopped"
	AgentEventToolCall     = "tool.call"
	AgentEventToolResult   = "tool.result"
	AgentEventNudge        = "run.nudge"
	AgentEventChatChunk    = "chat.chunk"
)

// Chat event subtypes
const (
	ChatEventChunk    = "chunk"
	ChatEventToolName = "tool_use"
)

// Actuator lifecycle events.
const (
	EventActuatorConnected    = "actuator.connected"
	EventActuatorDisconnected = "actuator.disconnected"
)
