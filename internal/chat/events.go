package chat

import (
	"encoding/json"
	"time"
)

// Client -> server events.
const (
	EventRoomJoin      = "room:join"
	EventRoomLeave     = "room:leave"
	EventTyping        = "typing"
	EventMessageSend   = "message:send"
	EventRead          = "read"
	EventPresenceCheck = "presence:check"
)

// Server -> client events. Typing is relayed under its inbound name.
const (
	EventMessageNew     = "message:new"
	EventReadUpdate     = "read:update"
	EventPresenceUpdate = "presence:update"
	EventAck            = "ack"
)

// Frame is the wire envelope in both directions. A non-empty ID on an
// inbound frame requests an ack frame carrying the same ID.
type Frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the payload of an ack frame. Operation failures travel only
// here, back to the caller, never into a room.
type Ack struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

type roomPayload struct {
	ConversationID string `json:"conversation_id"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type sendPayload struct {
	ConversationID string          `json:"conversation_id"`
	Body           string          `json:"body"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type presenceCheckPayload struct {
	UserID string `json:"user_id"`
}

type typingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type readUpdateEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	LastReadAt     time.Time `json:"last_read_at"`
}

type presenceStatus struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func encodeFrame(event, id string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, ID: id, Data: raw})
}
