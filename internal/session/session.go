package session

import (
	"context"
	"errors"
	"time"
)

// Session is the payload the user service writes to the shared store at
// login time. This package only ever reads it.
type Session struct {
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// ErrNotFound covers both a token that never existed and one whose TTL
// has expired; the store cannot tell the difference and callers must not
// care.
var ErrNotFound = errors.New("session not found")

// Store resolves an opaque session token to its session payload.
type Store interface {
	Get(ctx context.Context, token string) (*Session, error)
}
