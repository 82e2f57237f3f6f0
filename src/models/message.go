package models

// -----------------------------------------------------------------------------
// Inbound Client Messages
// -----------------------------------------------------------------------------

// MessageType is the closed set of inbound message kinds.
type MessageType string

const (
	MsgJoin         MessageType = "join"
	MsgChat         MessageType = "chat"
	MsgTyping       MessageType = "typing"
	MsgChartRequest MessageType = "chart_request"
	MsgSystem       MessageType = "system"
	MsgError        MessageType = "error"
)

// Valid reports whether t is one of the known inbound kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MsgJoin, MsgChat, MsgTyping, MsgChartRequest, MsgSystem, MsgError:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------

// MChatMessage is the inbound envelope. Unknown JSON fields are ignored;
// a missing type is a protocol error.
type MChatMessage struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content,omitempty"`
	Ticker    string      `json:"ticker,omitempty"`
	Timeframe string      `json:"timeframe,omitempty"`
	AIToggle  bool        `json:"ai_toggle,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Username  string      `json:"username,omitempty"`
}

// -----------------------------------------------------------------------------
// REST Chat Requests
// -----------------------------------------------------------------------------

// MChatTurnPayload is one prior exchange carried by a REST chat request.
type MChatTurnPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MChatRequest is the body of the stateless REST chat endpoints. The
// caller supplies its own history, nothing is stored server side.
type MChatRequest struct {
	Message string             `json:"message" binding:"required"`
	History []MChatTurnPayload `json:"history"`
}
