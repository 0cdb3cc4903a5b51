package presence

import (
	"context"
	"time"
)

// Update describes a user's presence transition. LastSeen is only set on
// the transition to offline; while online it carries no meaning.
type Update struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Tracker maps users to their set of live connection ids. A user is
// online iff that set is non-empty, so the last disconnect, not the
// first, is what takes a user offline.
//
// The tracker is injectable so a single-process deployment can run on
// the in-memory implementation and a multi-instance one can point every
// broadcaster at the same Redis.
type Tracker interface {
	// MarkOnline adds connID to the user's connection set. Adding a
	// second tab is additive, never a replacement.
	MarkOnline(ctx context.Context, userID, connID string) (Update, error)

	// MarkOfflineIfLast removes connID; when it was the user's last
	// connection the user goes offline, last-seen is recorded, and the
	// resulting update is returned. Otherwise it returns nil and nothing
	// should be broadcast.
	MarkOfflineIfLast(ctx context.Context, userID, connID string) (*Update, error)

	IsOnline(ctx context.Context, userID string) (bool, error)

	// LastSeen returns nil while no last-seen is recorded (user online,
	// never seen, or record aged out).
	LastSeen(ctx context.Context, userID string) (*time.Time, error)
}
