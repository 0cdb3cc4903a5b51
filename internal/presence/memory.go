package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker is the single-process implementation of Tracker.
type MemoryTracker struct {
	mu       sync.Mutex
	conns    map[string]map[string]bool // userID -> set of connection ids
	lastSeen map[string]time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		conns:    make(map[string]map[string]bool),
		lastSeen: make(map[string]time.Time),
	}
}

var _ Tracker = (*MemoryTracker)(nil)

func (t *MemoryTracker) MarkOnline(_ context.Context, userID, connID string) (Update, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conns[userID] == nil {
		t.conns[userID] = make(map[string]bool)
	}
	t.conns[userID][connID] = true
	// Last-seen only describes an offline user.
	delete(t.lastSeen, userID)
	return Update{UserID: userID, Online: true}, nil
}

func (t *MemoryTracker) MarkOfflineIfLast(_ context.Context, userID, connID string) (*Update, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.conns[userID]
	if set != nil {
		delete(set, connID)
	}
	if len(set) > 0 {
		return nil, nil
	}
	delete(t.conns, userID)

	lastSeen := time.Now().UTC()
	t.lastSeen[userID] = lastSeen
	return &Update{UserID: userID, Online: false, LastSeen: &lastSeen}, nil
}

func (t *MemoryTracker) IsOnline(_ context.Context, userID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID]) > 0, nil
}

func (t *MemoryTracker) LastSeen(_ context.Context, userID string) (*time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.lastSeen[userID]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}
