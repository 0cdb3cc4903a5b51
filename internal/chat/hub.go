package chat

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pulsegram/backend/internal/directory"
	"github.com/pulsegram/backend/internal/presence"
)

// Hub owns the ephemeral socket state: which connections belong to which
// user, and which connections sit in which conversation room. Durable
// state always goes through the directory; the hub never caches it.
type Hub struct {
	directory *directory.Store
	presence  presence.Tracker
	log       *logrus.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]bool // userID -> live connections
	rooms   map[string]map[*Client]bool // conversationID -> connections
}

func NewHub(dir *directory.Store, tracker presence.Tracker, log *logrus.Logger) *Hub {
	return &Hub{
		directory: dir,
		presence:  tracker,
		log:       log,
		clients:   make(map[string]map[*Client]bool),
		rooms:     make(map[string]map[*Client]bool),
	}
}

// register wires a freshly gated connection in: presence goes online,
// the whole server hears about it, and the connection is eagerly joined
// to a room per current conversation. The auto-join is best effort; a
// directory hiccup costs rooms, not the connection.
func (h *Hub) register(ctx context.Context, c *Client) {
	h.mu.Lock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*Client]bool)
	}
	h.clients[c.UserID][c] = true
	h.mu.Unlock()

	update, err := h.presence.MarkOnline(ctx, c.UserID, c.ID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", c.UserID).Error("mark online failed")
	}

	rooms := 0
	if summaries, listErr := h.directory.ListForUser(ctx, c.UserID); listErr != nil {
		h.log.WithError(listErr).WithField("user_id", c.UserID).
			Warn("conversation enumeration failed, joining zero rooms")
	} else {
		h.mu.Lock()
		for _, s := range summaries {
			h.joinLocked(s.ID, c)
		}
		h.mu.Unlock()
		rooms = len(summaries)
	}

	// Announced last, so a client that has seen its own presence update
	// is guaranteed to be sitting in its rooms already.
	if err == nil {
		h.broadcastAll(EventPresenceUpdate, update, nil)
	}

	h.log.WithFields(logrus.Fields{
		"user_id": c.UserID,
		"conn_id": c.ID,
		"rooms":   rooms,
	}).Info("socket connected")
}

// disconnect tears a connection down exactly once: room membership,
// client table, presence. A resulting offline update is a cross-cutting
// signal and goes to every connection, not to a room.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.UserID]; ok && set[c] {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	} else {
		// Already gone; a concurrent close signal won the race.
		h.mu.Unlock()
		return
	}
	for convID, room := range h.rooms {
		if room[c] {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, convID)
			}
		}
	}
	h.mu.Unlock()

	c.shutdown()

	update, err := h.presence.MarkOfflineIfLast(context.Background(), c.UserID, c.ID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", c.UserID).Error("mark offline failed")
		return
	}
	if update != nil {
		h.broadcastAll(EventPresenceUpdate, *update, nil)
	}

	h.log.WithFields(logrus.Fields{"user_id": c.UserID, "conn_id": c.ID}).Info("socket disconnected")
}

func (h *Hub) join(conversationID string, c *Client) {
	h.mu.Lock()
	h.joinLocked(conversationID, c)
	h.mu.Unlock()
}

func (h *Hub) joinLocked(conversationID string, c *Client) {
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]bool)
	}
	h.rooms[conversationID][c] = true
}

// leave is unconditional; leaving a room the connection never joined is
// a no-op.
func (h *Hub) leave(conversationID string, c *Client) {
	h.mu.Lock()
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	h.mu.Unlock()
}

// broadcastRoom fans an event out to a room. Pass except to exclude the
// sender, or nil to include every connection (the sender's other tabs
// converge that way on message:new).
func (h *Hub) broadcastRoom(conversationID, event string, data any, except *Client) {
	payload, err := encodeFrame(event, "", data)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("encode broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[conversationID]))
	for client := range h.rooms[conversationID] {
		if client == except {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(payload) {
			h.log.WithField("user_id", client.UserID).Warn("dropping slow client")
			client.shutdown()
		}
	}
}

func (h *Hub) broadcastAll(event string, data any, except *Client) {
	payload, err := encodeFrame(event, "", data)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("encode broadcast")
		return
	}

	h.mu.RLock()
	var targets []*Client
	for _, set := range h.clients {
		for client := range set {
			if client == except {
				continue
			}
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(payload) {
			h.log.WithField("user_id", client.UserID).Warn("dropping slow client")
			client.shutdown()
		}
	}
}

// RoomSize reports how many connections currently sit in a room.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// InRoom reports whether a connection is currently in a room.
func (h *Hub) InRoom(conversationID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[conversationID][c]
}
