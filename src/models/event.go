package models

// -----------------------------------------------------------------------------
// Outbound Events
// -----------------------------------------------------------------------------

// EventType is the closed set of outbound event kinds.
type EventType string

const (
	EvtSystem      EventType = "system"
	EvtChat        EventType = "chat"
	EvtTyping      EventType = "typing"
	EvtAIStream    EventType = "ai_stream"
	EvtAIComplete  EventType = "ai_complete"
	EvtToolCall    EventType = "tool_call"
	EvtChartData   EventType = "chart_data"
	EvtError       EventType = "error"
	EvtUpdateChart EventType = "update_chart"
)

// -----------------------------------------------------------------------------

// MEvent is the outbound envelope. Only the fields relevant to the
// event type are populated.
type MEvent struct {
	Type        EventType     `json:"type"`
	SenderID    string        `json:"sender_id,omitempty"`
	SenderName  string        `json:"sender_name,omitempty"`
	Content     string        `json:"content,omitempty"`
	Timestamp   int64         `json:"timestamp,omitempty"`
	Users       []MActiveUser `json:"users,omitempty"`
	Tool        *MToolStatus  `json:"tool,omitempty"`
	RequestedBy string        `json:"requested_by,omitempty"`
	Data        *MSeries      `json:"data,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// -----------------------------------------------------------------------------

// MActiveUser is one entry of the "who is online" roster.
type MActiveUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// MToolStatus reports a tool-call transition during an AI turn.
type MToolStatus struct {
	Name   string            `json:"name"`
	Status string            `json:"status"` // "started" or "completed"
	Args   map[string]string `json:"args,omitempty"`
}
