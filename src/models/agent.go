package models

// -----------------------------------------------------------------------------
// AI Collaborator Events
// -----------------------------------------------------------------------------

// AgentEventKind enumerates what an agent stream can emit.
type AgentEventKind string

const (
	AgentToken         AgentEventKind = "token"
	AgentToolStarted   AgentEventKind = "tool_started"
	AgentToolCompleted AgentEventKind = "tool_completed"
)

// MAgentEvent is one element of an agent's streamed turn.
type MAgentEvent struct {
	Kind  AgentEventKind
	Token string
	Tool  MToolCall
}

// MToolCall identifies a tool invocation inside an AI turn.
type MToolCall struct {
	Name string
	Args map[string]string
}

// -----------------------------------------------------------------------------

// MTurn is one conversation entry kept in a session's history.
type MTurn struct {
	Role     string // "user" or "assistant"
	Content  string
	Username string
}
