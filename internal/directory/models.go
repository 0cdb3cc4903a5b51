package directory

import (
	"encoding/json"
	"time"
)

const (
	KindDirect = "DIRECT"
	KindGroup  = "GROUP"
)

const (
	RoleMember = "MEMBER"
	RoleAdmin  = "ADMIN"
)

type Conversation struct {
	ID           string        `json:"id"`
	Kind         string        `json:"kind"`
	Title        string        `json:"title,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Participants []Participant `json:"participants"`
}

type Participant struct {
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastReadAt *time.Time `json:"last_read_at"`
}

// Message is immutable once persisted; there is no edit or delete path.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Body           string          `json:"body"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Summary annotates a conversation for inbox-style listings.
type Summary struct {
	Conversation
	UnreadCount int      `json:"unread_count"`
	LastMessage *Message `json:"last_message"`
}

// Page is one slice of a conversation's history, newest first.
// NextCursor is the id of the oldest returned message when the page is
// full, empty when the history is exhausted.
type Page struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
